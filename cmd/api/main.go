package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callback_backend/internal/callbacks"
	callbackservice "callback_backend/internal/callbacks/service"
	"callback_backend/internal/events"
	"callback_backend/internal/guard"
	"callback_backend/internal/hours"
	apphttp "callback_backend/internal/http"
	"callback_backend/internal/http/router"
	"callback_backend/internal/notification"
	"callback_backend/internal/scheduler"
	"callback_backend/internal/telephony"
	"callback_backend/internal/telephony/twilio"
	"callback_backend/platform/config"
	"callback_backend/platform/db"
	"callback_backend/platform/logger"
	"callback_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Redis-backed guard rails; the service degrades without them.
	var limiter callbackservice.RateLimiter
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "error", err)
			panic("invalid REDIS_URL: " + err.Error())
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		limiter = guard.NewRedisLimiter(rdb, cfg, log)
		log.Info("redis rate limiter enabled",
			"perMinute", cfg.RateLimitPerMinute,
			"perHour", cfg.RateLimitPerHour,
			"perDay", cfg.RateLimitPerDay,
		)
	} else {
		log.Warn("REDIS_URL not configured; per-client rate limiting disabled")
	}

	captcha := guard.NewCaptchaVerifier(cfg, log)
	hoursOracle := hours.New(cfg, log)

	var gateway telephony.Gateway
	if cfg.IsTwilioEnabled() {
		gateway = twilio.NewClient(cfg, log)
		log.Info("twilio gateway configured", "from", cfg.TwilioNumber, "business", cfg.BusinessNumber)
	} else {
		log.Warn("twilio not configured; requests will be stored without call or SMS")
	}

	expiryClient, closeExpiry := initExpiryScheduler(cfg, log)
	if closeExpiry != nil {
		defer closeExpiry()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module subscribes to domain events (not HTTP-facing)
	notificationModule := notification.New(cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	callbacksModule := callbacks.NewModule(
		pool,
		gateway,
		hoursOracle,
		limiter,
		captcha,
		expiryClient,
		eventBus,
		callbackservice.Config{
			TwilioNumber:   cfg.TwilioNumber,
			BusinessNumber: cfg.BusinessNumber,
			PublicBaseURL:  cfg.PublicBaseURL,
			CallExpiry:     cfg.CallExpiry,
		},
		val,
		log,
	)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:           cfg,
		Logger:           log,
		Health:           db.NewPoolAdapter(pool),
		TelephonyEnabled: cfg.IsTwilioEnabled(),
		Modules: []apphttp.Module{
			callbacksModule,
		},
	}

	engine := router.New(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Run the call-expiry worker in-process when Redis is available.
	if cfg.RedisURL != "" {
		worker, err := scheduler.NewWorker(cfg, callbacksModule.Service(), log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		group.Go(func() error {
			worker.Run(groupCtx)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
}

func initExpiryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (callbackservice.ExpiryScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; call-expiry watchdog disabled")
		return nil, nil
	}

	expiryClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return expiryClient, func() {
		_ = expiryClient.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
