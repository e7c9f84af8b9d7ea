package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  string
	KafkaTopic    string

	AuthSecret            string
	AccessTokenTTLMinutes int

	PlatformFee decimal.Decimal
	DeliveryFee decimal.Decimal

	BusinessTimezone        string
	FulfillmentHour         int
	FulfillmentWorkers      int
	FulfillmentAutoActivate bool
	FulfillmentLockTTL      time.Duration
	NodeID                  int64

	SupportPhone string
	SupportEmail string
}

// Load reads the environment, preloading a .env file when one exists.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0, 0),
		KafkaBrokers:  strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "dairyflow.events"),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),

		PlatformFee: getDecimal("PLATFORM_FEE", decimal.NewFromInt(5)),
		DeliveryFee: getDecimal("DELIVERY_FEE", decimal.Zero),

		BusinessTimezone:        getEnv("BUSINESS_TIMEZONE", "Asia/Kolkata"),
		FulfillmentHour:         getInt("FULFILLMENT_HOUR", 4, 0),
		FulfillmentWorkers:      getInt("FULFILLMENT_WORKERS", 4, 1),
		FulfillmentAutoActivate: getBool("FULFILLMENT_AUTO_ACTIVATE", true),
		FulfillmentLockTTL:      time.Duration(getInt("FULFILLMENT_LOCK_TTL_MINUTES", 30, 1)) * time.Minute,
		NodeID:                  int64(getInt("NODE_ID", 1, 0)),

		SupportPhone: getEnv("SUPPORT_PHONE", "+91-1800-000-000"),
		SupportEmail: getEnv("SUPPORT_EMAIL", "support@dairyflow.in"),
	}
	if cfg.FulfillmentHour > 23 {
		cfg.FulfillmentHour = 4
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves BusinessTimezone, falling back to UTC when the zone is
// unknown to the host.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC, fmt.Errorf("load timezone %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := decimal.NewFromString(raw)
	if err != nil || val.IsNegative() {
		return fallback
	}
	return val
}
