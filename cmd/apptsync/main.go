package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"apptsync/internal/consumer"
	"apptsync/internal/handlers"
	"apptsync/internal/jobs"
	"apptsync/internal/lifecycle"
	"apptsync/internal/notify"
	"apptsync/internal/outbox"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/internal/token"
	"apptsync/internal/webhook"
	"apptsync/libs/config"
	"apptsync/libs/db"
	"apptsync/libs/httpx"
	"apptsync/libs/kafkax"
	otelx "apptsync/libs/otel"
	"apptsync/libs/runtime"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "apptsync")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, config.Int("DB_MAX_CONNS", 10))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
	} else {
		logger.Info("redis disabled, oauth connect unavailable and rate limiting falls back to in-memory")
	}

	baseURL := strings.TrimRight(config.String("PUBLIC_BASE_URL", "http://localhost:"+port), "/")

	services := storage.NewServices(pool)
	configs := storage.NewConfigs(pool)
	tokensRepo := storage.NewTokens(pool)
	appts := storage.NewAppointments(pool)
	outboxRepo := outbox.NewRepository(pool)

	registry := provider.NewRegistry(provider.NewGoogle())
	states := provider.NewStateStore(rdb)
	tokens := token.NewStore(pool, tokensRepo, registry, logger)
	notifier := notify.NewNotifier(outboxRepo)
	lc := lifecycle.NewManager(pool, appts, services, configs, tokens, registry, notifier, logger)
	reconciler := webhook.NewReconciler(configs, appts, tokens, registry, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var sender notify.Sender = notify.NoopSender{}
	if host := config.String("SMTP_HOST", ""); host != "" {
		sender = notify.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
	}
	deliverer := notify.NewDeliverer(sender, storage.NewDeliveries(pool), logger)
	eventConsumer := consumer.New(logger, consumer.NewInbox(pool), consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", service),
		Topics:  []string{notify.EventConfirmed, notify.EventCancelled, notify.EventRescheduled, notify.EventReminderDue},
	}, deliverer.Handle)
	go eventConsumer.Run(ctx)

	runner := jobs.NewRunner(pool, configs, services, appts, tokens, registry, notifier, logger, jobs.RunnerConfig{
		BaseURL:  baseURL,
		Interval: config.Seconds("JOB_INTERVAL_SECONDS", 5*time.Minute),
	})
	go runner.Run(ctx)

	availabilityHandler := handlers.NewAvailabilityHandler(services, appts, configs, tokens, registry, logger)
	bookingHandler := handlers.NewBookingHandler(lc, appts, services, logger)
	servicesHandler := handlers.NewServicesHandler(services, logger)
	webhookHandler := handlers.NewWebhookHandler(reconciler, logger)
	configsHandler := handlers.NewConfigsHandler(configs, tokens, registry, states, baseURL, logger)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimited httpx.Middleware
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimited = limiter.Middleware(logger, true)
	} else {
		rateLimited = httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	mux.HandleFunc("GET /api/v1/services", servicesHandler.List)
	mux.HandleFunc("/api/v1/availability", availabilityHandler.Slots)
	mux.Handle("POST /api/v1/book", rateLimited(http.HandlerFunc(bookingHandler.Book)))
	mux.HandleFunc("GET /api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", bookingHandler.Cancel)
	mux.HandleFunc("POST /api/v1/appointments/{id}/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("POST /api/v1/appointments/{id}/status", bookingHandler.SetStatus)
	mux.HandleFunc("DELETE /api/v1/appointments/{id}", bookingHandler.Delete)

	mux.HandleFunc("GET /api/v1/calendar/configs", configsHandler.List)
	mux.HandleFunc("POST /api/v1/calendar/configs", configsHandler.Create)
	mux.HandleFunc("POST /api/v1/calendar/configs/{id}/activate", configsHandler.Activate)
	mux.HandleFunc("POST /api/v1/calendar/configs/{id}/deactivate", configsHandler.Deactivate)
	mux.HandleFunc("GET /api/v1/calendar/configs/{id}/connect", configsHandler.Connect)
	mux.HandleFunc("POST /api/v1/calendar/configs/{id}/test", configsHandler.Test)
	mux.HandleFunc("POST /api/v1/calendar/configs/{id}/disconnect", configsHandler.Disconnect)
	mux.HandleFunc("GET /calendar/oauth/callback", configsHandler.Callback)

	mux.HandleFunc("POST /webhook/calendar/{provider}/{config_id}", webhookHandler.Receive)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
