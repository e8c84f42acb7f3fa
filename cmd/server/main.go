package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/analytics"
	"campus-fulfillment-service/internal/config"
	"campus-fulfillment-service/internal/controller"
	"campus-fulfillment-service/internal/eta"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/gateway"
	"campus-fulfillment-service/internal/middleware"
	"campus-fulfillment-service/internal/rabbit"
	"campus-fulfillment-service/internal/repository"
	"campus-fulfillment-service/internal/service"
	"campus-fulfillment-service/internal/token"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB
	client, err := repository.Connect(ctx, cfg.MongoURI, 10*time.Second)
	if err != nil {
		logger.WithError(err).Fatal("connect mongodb")
	}
	db := client.Database(cfg.MongoDBName)

	ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := repository.EnsureIndexes(ictx, db); err != nil {
		logger.WithError(err).Fatal("ensure indexes")
	}
	cancel()

	// Peak hours are bucketed on write and matched on lookup with this one clock.
	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).WithField("timezone", cfg.Timezone).Warn("unknown timezone, using local")
		loc = time.Local
	}
	clock := func() time.Time { return time.Now().In(loc) }

	orders := repository.NewMongoOrderRepository(db)
	menu := repository.NewMongoMenuRepository(db)
	vendors := repository.NewMongoVendorRepository(db)

	// Live events
	hub := gateway.NewHub(gateway.Options{Heartbeat: cfg.HeartbeatInterval}, logger)
	broker := events.Open(ctx, events.Options{
		RedisURL:    cfg.EventBusRedisURL,
		AMQPURL:     cfg.EventBusAMQPURL,
		DialTimeout: 5 * time.Second,
	}, hub, logger)
	go hub.Run(ctx)

	// Analytics recomputation is coordinated across replicas when Redis is the bus.
	var limiter analytics.Limiter
	if rb, ok := broker.(*events.RedisBroker); ok {
		limiter = analytics.NewRedisLimiter(rb.Client(), analytics.RecomputeInterval, logger)
	}
	aggregator := analytics.NewAggregator(repository.NewAnalyticsStore(db), analytics.Options{
		QueryTimeout: cfg.AnalyticsQueryTimeout,
		Limiter:      limiter,
		Now:          clock,
	}, logger)

	tokens := token.NewIssuer(cfg.JWTSecret, cfg.QRTokenTTL, nil)

	orderService := service.NewOrderService(service.OrderDeps{
		Orders:        orders,
		Menu:          menu,
		Vendors:       vendors,
		Notifications: repository.NewMongoNotificationRepository(db),
		Publisher:     broker,
		Estimator:     eta.New(menu, clock, logger),
		Analytics:     aggregator,
		Tokens:        tokens,
	}, logger)
	subscriptionService := service.NewSubscriptionService(
		repository.NewMongoSubscriptionRepository(db), vendors, broker, nil, logger,
	)

	// Handlers
	orderCtrl := controller.NewOrderController(orderService, logger)
	subCtrl := controller.NewSubscriptionController(subscriptionService, logger)
	liveCtrl := controller.NewLiveController(hub, broker.Name())

	// Router
	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsConfig))

	user := r.Group("/")
	user.Use(middleware.AuthMiddleware(tokens, false), middleware.RequireRole(token.RoleUser))
	user.POST("/orders", orderCtrl.PlaceOrder)
	user.POST("/subscriptions", subCtrl.Submit)

	vendor := r.Group("/")
	vendor.Use(middleware.AuthMiddleware(tokens, false), middleware.RequireRole(token.RoleVendor))
	vendor.PATCH("/orders/:orderId/state", orderCtrl.UpdateState)
	vendor.POST("/orders/scan", orderCtrl.ScanOrder)
	vendor.POST("/subscriptions/:id/scan", subCtrl.ScanMeal)
	vendor.GET("/live/stats", liveCtrl.Stats)

	// Owner check happens in the service, so either role may ask.
	r.GET("/orders/:orderId/eta", middleware.AuthMiddleware(tokens, false), orderCtrl.GetETA)

	// EventSource cannot set headers.
	r.GET("/vendors/stream", middleware.AuthMiddleware(tokens, true), middleware.RequireRole(token.RoleVendor), liveCtrl.VendorStream)
	r.GET("/users/stream", middleware.AuthMiddleware(tokens, true), middleware.RequireRole(token.RoleUser), liveCtrl.UserStream)

	// RabbitMQ order intake
	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			logger.WithError(err).Fatal("connect rabbitmq")
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.WithError(err).Fatal("open rabbitmq channel")
		}
		if err := rabbit.SetupConsumers(ctx, ch, orderService, logger); err != nil {
			logger.WithError(err).Fatal("setup rabbitmq consumers")
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Cancelling request contexts on shutdown ends open event streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "broker": broker.Name()}).Info("campus fulfillment service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := broker.Close(); err != nil {
		logger.WithError(err).Warn("close event broker")
	}
	if err := client.Disconnect(sctx); err != nil {
		logger.WithError(err).Warn("disconnect mongodb")
	}
}
