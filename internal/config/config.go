// config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	MongoDBName string
	RabbitURL   string
	Port        string

	// Presence of one of these selects a shared event bus. Redis wins when both are set.
	EventBusRedisURL string
	EventBusAMQPURL  string

	JWTSecret             string
	QRTokenTTL            time.Duration
	HeartbeatInterval     time.Duration
	AnalyticsQueryTimeout time.Duration
	LogLevel              string
	CORSAllowedOrigins    []string

	// Zone for peak-hour buckets and ETA lookups, e.g. "Asia/Kolkata".
	Timezone string
}

func Load() *Config {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	return &Config{
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:           getEnv("MONGO_DB_NAME", "campus_fulfillment"),
		RabbitURL:             getEnv("RABBIT_URL", ""),
		Port:                  getEnv("PORT", "8080"),
		EventBusRedisURL:      getEnv("EVENT_BUS_REDIS_URL", ""),
		EventBusAMQPURL:       getEnv("EVENT_BUS_AMQP_URL", ""),
		JWTSecret:             getEnv("JWT_SECRET", "campus-fulfillment-dev-secret"),
		QRTokenTTL:            time.Duration(getEnvInt("QR_TOKEN_TTL_HOURS", 72)) * time.Hour,
		HeartbeatInterval:     time.Duration(getEnvInt("SSE_HEARTBEAT_SECONDS", 25)) * time.Second,
		AnalyticsQueryTimeout: time.Duration(getEnvInt("ANALYTICS_QUERY_TIMEOUT_SECONDS", 5)) * time.Second,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Timezone:              getEnv("SERVICE_TIMEZONE", "Local"),
	}
}

// Location resolves Timezone. Callers fall back to time.Local on error.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
