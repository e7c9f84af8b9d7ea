package main

import (
	"testing"

	"dairyflow/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", AllowedOrigin: "https://app.dairyflow.in"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "https://app.dairyflow.in"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
