package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REQUEST_COST_UNITS")
	unsetEnvWithCleanup(t, "MIN_VALIDATOR_QUORUM")
	unsetEnvWithCleanup(t, "MAX_VALIDATORS_PER_CONTRIBUTION")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RequestCostUnits != 25 {
		t.Fatalf("expected default RequestCostUnits 25, got %d", cfg.RequestCostUnits)
	}
	if cfg.MinValidatorQuorum != 3 {
		t.Fatalf("expected default MinValidatorQuorum 3, got %d", cfg.MinValidatorQuorum)
	}
	if cfg.MaxValidatorsPerContribution != 5 {
		t.Fatalf("expected default MaxValidatorsPerContribution 5, got %d", cfg.MaxValidatorsPerContribution)
	}
}

func TestLoadConfig_PortAliasOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NegativeRequestCostCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "REQUEST_COST_UNITS", "-50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RequestCostUnits != 0 {
		t.Fatalf("expected negative request cost coerced to 0, got %d", cfg.RequestCostUnits)
	}
}

func TestLoadConfig_NonPositiveReviewPeriodFallsBackToDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "REVIEW_PERIOD_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReviewPeriodSeconds != 259200 {
		t.Fatalf("expected review period fallback 259200, got %d", cfg.ReviewPeriodSeconds)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
