package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/api"
	"github.com/lalithlochan/solarops/internal/circuitbreaker"
	"github.com/lalithlochan/solarops/internal/config"
	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/dispatch"
	"github.com/lalithlochan/solarops/internal/metrics"
	"github.com/lalithlochan/solarops/internal/observ"
	"github.com/lalithlochan/solarops/internal/recipients"
	"github.com/lalithlochan/solarops/internal/redis"
	"github.com/lalithlochan/solarops/internal/sns"
	"github.com/lalithlochan/solarops/internal/sqs"
	"github.com/lalithlochan/solarops/internal/trigger"
	"github.com/lalithlochan/solarops/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting solarops notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("mail_driver", cfg.MailDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the optional event guard and ingest rate limiter
	var (
		redisClient *redis.Client
		guard       *redis.EventGuard
		limiter     api.Limiter
	)
	if cfg.RedisEnabled() {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNS,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, event guard and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			if cfg.EventDedupWindow > 0 {
				guard = redis.NewEventGuard(redisClient, cfg.EventDedupWindow, logger)
			}
			if cfg.IngestRateLimit > 0 {
				limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
					Limit:  cfg.IngestRateLimit,
					Window: time.Minute,
				})
			}
		}
	}

	// Channel senders, each behind its own breaker
	var emailSender worker.Sender
	switch cfg.MailDriver {
	case config.MailDriverSES:
		emailSender, err = worker.NewSESSender(ctx, worker.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			Endpoint:  cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES email sender: %w", err)
		}
	default:
		emailSender = worker.NewLogSender(logger, db.ChannelEmail)
	}

	headers := map[string]string{}
	if cfg.WebhookSecret != "" {
		headers["X-Solarops-Webhook-Secret"] = cfg.WebhookSecret
	}
	webhookSender := worker.NewWebhookSender(logger, worker.WebhookConfig{
		URL:     cfg.WebhookURL,
		Timeout: cfg.WebhookTimeout,
		Headers: headers,
	})

	onStateChange := func(name string, from, to circuitbreaker.State) {
		metrics.SetBreakerState(name, int(to))
	}
	newBreaker := func(name string, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
		bc := circuitbreaker.DefaultConfig(name)
		bc.OnStateChange = onStateChange
		bc.IsFailure = isFailure
		return circuitbreaker.New(bc, logger)
	}
	// a refused customer address must not cut off the other recipients
	emailBreaker := newBreaker("email", worker.IsRelayFailure)
	webhookBreaker := newBreaker("webhook", nil)

	senders := worker.NewMultiSender(logger,
		circuitbreaker.NewProtectedSender(emailSender, emailBreaker, logger),
		circuitbreaker.NewProtectedSender(webhookSender, webhookBreaker, logger),
	)

	resolver := recipients.NewResolver(repo, cfg.PlatformName, logger)
	dispatcher, err := dispatch.New(resolver, senders, senders, dispatch.Config{
		WebhookURL:     cfg.WebhookURL,
		WebhookTimeout: cfg.WebhookTimeout,
		EmailTimeout:   cfg.EmailTimeout,
		LookupTimeout:  cfg.LookupTimeout,
		Concurrency:    cfg.EmailConcurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	handlerOpts := []trigger.Option{trigger.WithRecorder(repo)}
	if guard != nil {
		handlerOpts = append(handlerOpts, trigger.WithEventGuard(guard))
	}
	events := trigger.New(dispatcher, logger, handlerOpts...)

	// Event transport
	var apiOpts []api.Option
	apiOpts = append(apiOpts,
		api.WithBreakers(emailBreaker, webhookBreaker),
		api.WithCheck("database", database.Health),
	)
	if redisClient != nil {
		apiOpts = append(apiOpts, api.WithCheck("redis", redisClient.Ping))
	}

	awsEndpoint := cfg.AWSEndpoint
	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, sns.Config{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.SNSTopicARN,
			Endpoint: awsEndpoint,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sns publisher: %w", err)
		}
		apiOpts = append(apiOpts, api.WithTopic(publisher))
	}

	workerDone := make(chan struct{})
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: awsEndpoint,
		}

		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs producer: %w", err)
		}
		apiOpts = append(apiOpts, api.WithQueue(producer))

		consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}

		w := worker.New(consumer, events, worker.Config{Pollers: cfg.WorkerPollers}, logger)
		go func() {
			defer close(workerDone)
			w.Start(ctx)
		}()
	} else {
		close(workerDone)
		logger.Info("no queue configured, ingested events are handled inline")
	}

	go reportPoolStats(ctx, database, redisClient)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	handler := api.NewHandler(logger, repo, events, apiOpts...)
	auth := api.NewAuthenticator(cfg.JWTSecret, repo, logger)
	handler.Routes(r, auth.Middleware,
		api.InternalTokenMiddleware(cfg.InternalToken),
		api.RateLimitMiddleware(limiter, logger, api.IngestKeyFunc),
	)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		<-workerDone
		logger.Info("server stopped gracefully")
	}

	return nil
}

// reportPoolStats publishes connection pool gauges until ctx is done
func reportPoolStats(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.OpenConns())
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.OpenConns())
			}
		}
	}
}
