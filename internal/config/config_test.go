package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadCommissionRates(t *testing.T) {
	t.Setenv("ADMIN_COMMISSION_RATE", "")
	t.Setenv("MASTER_COMMISSION_RATE", "35.5")

	cfg := Load()
	assert.Equal(t, "10", cfg.AdminCommissionRate.String())
	assert.Equal(t, "35.5", cfg.MasterCommissionRate.String())
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	t.Setenv("MASTER_COMMISSION_RATE", "140")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "0")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")

	cfg := Load()
	assert.Equal(t, "40", cfg.MasterCommissionRate.String())
	assert.Equal(t, 60, cfg.ReportCacheTTLSeconds)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, ":9090", Config{Port: "9090"}.Address())
}
