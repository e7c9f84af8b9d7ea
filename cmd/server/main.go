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

	"github.com/rs/zerolog"

	"dairyflow/backend/internal/config"
	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/events"
	"dairyflow/backend/internal/fulfillment"
	"dairyflow/backend/internal/httpapi"
	"dairyflow/backend/internal/lock"
	"dairyflow/backend/internal/numbering"
	"dairyflow/backend/internal/pricing"
	"dairyflow/backend/internal/service"
	"dairyflow/backend/internal/store"
	"dairyflow/backend/internal/store/memory"
	pgstore "dairyflow/backend/internal/store/postgres"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to UTC")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate schema")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisLocker.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process run lock")
			_ = redisLocker.Close()
		} else {
			locker = redisLocker
			closers = append(closers, redisLocker.Close)
			logger.Info().Msg("run lock: redis")
		}
	} else {
		logger.Info().Msg("run lock: in-process")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.KafkaBrokers != "" {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafka
		closers = append(closers, kafka.Close)
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("events: kafka")
	} else {
		logger.Info().Msg("events: noop")
	}

	calc, err := pricing.NewCalculator(pricing.Fees{PlatformFee: cfg.PlatformFee, DeliveryFee: cfg.DeliveryFee})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid fee configuration")
	}
	numbers, err := numbering.New(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid NODE_ID")
	}

	scheduler := fulfillment.New(repo, calc, numbers, fulfillment.Options{
		Locker:       locker,
		Publisher:    publisher,
		Logger:       logger,
		Workers:      cfg.FulfillmentWorkers,
		AutoActivate: cfg.FulfillmentAutoActivate,
		LockTTL:      cfg.FulfillmentLockTTL,
		Location:     loc,
		Hour:         cfg.FulfillmentHour,
	})
	svc := service.New(repo, scheduler, numbers, service.Options{
		Publisher: publisher,
		Logger:    logger,
		Support:   domain.SupportInfo{Phone: cfg.SupportPhone, Email: cfg.SupportEmail},
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual fulfillment runs answer synchronously.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, stopRuns := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.RunDaily(runCtx)
	}()

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("dairyflow backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown error")
	}
	stopRuns()
	<-schedulerDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not *")
	}
	return nil
}
