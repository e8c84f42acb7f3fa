package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// Limiter gates the per-vendor recomputation pass.
type Limiter interface {
	Allow(ctx context.Context, vendorID string) bool
}

// LocalLimiter admits each vendor at most once per interval within this
// process.
type LocalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     map[string]time.Time
}

func NewLocalLimiter(interval time.Duration, now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{interval: interval, now: now, last: make(map[string]time.Time)}
}

func (l *LocalLimiter) Allow(_ context.Context, vendorID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[vendorID]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[vendorID] = now
	return true
}

// RedisLimiter shares the interval across every instance by taking a Redis
// lock that is never released and simply expires. When Redis is unreachable it
// degrades to the local limiter.
type RedisLimiter struct {
	locker   *redislock.Client
	interval time.Duration
	fallback *LocalLimiter
	log      logrus.FieldLogger
}

func NewRedisLimiter(client redislock.RedisClient, interval time.Duration, log logrus.FieldLogger) *RedisLimiter {
	return &RedisLimiter{
		locker:   redislock.New(client),
		interval: interval,
		fallback: NewLocalLimiter(interval, nil),
		log:      log.WithField("component", "analytics.limiter"),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, vendorID string) bool {
	_, err := l.locker.Obtain(ctx, "analytics:recompute:"+vendorID, l.interval, nil)
	switch {
	case err == nil:
		return true
	case errors.Is(err, redislock.ErrNotObtained):
		return false
	default:
		l.log.WithError(err).WithField("vendorId", vendorID).Warn("redis limiter unavailable, using local")
		return l.fallback.Allow(ctx, vendorID)
	}
}
