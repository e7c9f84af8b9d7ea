package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadReadsFulfillmentSettings(t *testing.T) {
	t.Setenv("PLATFORM_FEE", "7.50")
	t.Setenv("DELIVERY_FEE", "10")
	t.Setenv("BUSINESS_TIMEZONE", "Asia/Kolkata")
	t.Setenv("FULFILLMENT_HOUR", "5")
	t.Setenv("FULFILLMENT_WORKERS", "8")
	t.Setenv("FULFILLMENT_AUTO_ACTIVATE", "false")
	t.Setenv("FULFILLMENT_LOCK_TTL_MINUTES", "15")
	t.Setenv("NODE_ID", "12")

	cfg := Load()
	if !cfg.PlatformFee.Equal(decimal.RequireFromString("7.5")) || !cfg.DeliveryFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected fees %s / %s", cfg.PlatformFee, cfg.DeliveryFee)
	}
	if cfg.FulfillmentHour != 5 || cfg.FulfillmentWorkers != 8 || cfg.FulfillmentAutoActivate {
		t.Fatalf("unexpected fulfillment settings %+v", cfg)
	}
	if cfg.FulfillmentLockTTL != 15*time.Minute || cfg.NodeID != 12 {
		t.Fatalf("unexpected lock ttl %s or node %d", cfg.FulfillmentLockTTL, cfg.NodeID)
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("PLATFORM_FEE", "-3")
	t.Setenv("DELIVERY_FEE", "abc")
	t.Setenv("FULFILLMENT_HOUR", "27")
	t.Setenv("FULFILLMENT_WORKERS", "0")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")

	cfg := Load()
	if !cfg.PlatformFee.Equal(decimal.NewFromInt(5)) || !cfg.DeliveryFee.IsZero() {
		t.Fatalf("expected default fees, got %s / %s", cfg.PlatformFee, cfg.DeliveryFee)
	}
	if cfg.FulfillmentHour != 4 || cfg.FulfillmentWorkers != 4 || cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	loc, err := Config{BusinessTimezone: "Mars/Olympus"}.Location()
	if err == nil || loc != time.UTC {
		t.Fatalf("expected UTC fallback with an error, got %v %v", loc, err)
	}
	if got := (Config{Port: "9090"}).Address(); got != ":9090" {
		t.Fatalf("unexpected address %q", got)
	}
}
