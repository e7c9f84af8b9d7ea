// Command fulfill runs one fulfillment pass and prints its summary as JSON.
// It exits 1 when the run fails or any subscription failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"dairyflow/backend/internal/config"
	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/events"
	"dairyflow/backend/internal/fulfillment"
	"dairyflow/backend/internal/lock"
	"dairyflow/backend/internal/numbering"
	"dairyflow/backend/internal/pricing"
	pgstore "dairyflow/backend/internal/store/postgres"
)

func main() {
	date := flag.String("date", "", "generation date YYYY-MM-DD, defaults to today in BUSINESS_TIMEZONE")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	os.Exit(run(context.Background(), config.Load(), *date, os.Stdout, logger))
}

func run(ctx context.Context, cfg config.Config, rawDate string, out io.Writer, logger zerolog.Logger) int {
	if cfg.DatabaseURL == "" {
		logger.Error().Msg("DATABASE_URL is required")
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to UTC")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := pgstore.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("postgres unavailable")
		return 1
	}
	defer repo.Close()
	if err := repo.Migrate(startCtx); err != nil {
		logger.Error().Err(err).Msg("migrate schema")
		return 1
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisLocker.Close()
		if err := redisLocker.Ping(startCtx); err != nil {
			logger.Error().Err(err).Msg("redis unavailable; refusing to run without the shared lock")
			return 1
		}
		locker = redisLocker
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.KafkaBrokers != "" {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		publisher = kafka
	}

	calc, err := pricing.NewCalculator(pricing.Fees{PlatformFee: cfg.PlatformFee, DeliveryFee: cfg.DeliveryFee})
	if err != nil {
		logger.Error().Err(err).Msg("invalid fee configuration")
		return 1
	}
	numbers, err := numbering.New(cfg.NodeID)
	if err != nil {
		logger.Error().Err(err).Msg("invalid NODE_ID")
		return 1
	}

	scheduler := fulfillment.New(repo, calc, numbers, fulfillment.Options{
		Locker:       locker,
		Publisher:    publisher,
		Logger:       logger,
		Workers:      cfg.FulfillmentWorkers,
		AutoActivate: cfg.FulfillmentAutoActivate,
		LockTTL:      cfg.FulfillmentLockTTL,
		Location:     loc,
	})
	return execute(ctx, scheduler, rawDate, out, logger)
}

type runner interface {
	Today() time.Time
	Run(ctx context.Context, runDate time.Time) (domain.BatchSummary, error)
}

func execute(ctx context.Context, scheduler runner, rawDate string, out io.Writer, logger zerolog.Logger) int {
	runDate := scheduler.Today()
	if rawDate != "" {
		parsed, err := domain.ParseDate(rawDate)
		if err != nil {
			logger.Error().Str("date", rawDate).Msg("date must be YYYY-MM-DD")
			return 2
		}
		runDate = parsed
	}

	summary, err := scheduler.Run(ctx, runDate)
	if err != nil {
		logger.Error().Err(err).Str("run_date", runDate.Format(domain.DateLayout)).Msg("fulfillment run failed")
		return 1
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		logger.Error().Err(err).Msg("write summary")
		return 1
	}
	if summary.HasFailures() {
		return 1
	}
	return 0
}
