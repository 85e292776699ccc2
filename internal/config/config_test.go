package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "STORE_DRIVER", "UNIT_PRICE", "MAX_QUANTITY", "GATEWAY_TIMEOUT_SECONDS", "GATEWAY_SUCCESS_TOKENS", "GATEWAY_SUCCESS_MATCH", "CORS_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" || cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("unexpected defaults: port=%q driver=%q", cfg.ServerPort, cfg.StoreDriver)
	}
	if cfg.UnitPrice.StringFixed(2) != "6.00" || cfg.MaxQuantity != 50 {
		t.Fatalf("unexpected pricing defaults: %s / %d", cfg.UnitPrice, cfg.MaxQuantity)
	}
	if cfg.GatewayTimeout() != 12*time.Second {
		t.Fatalf("expected 12s gateway timeout, got %s", cfg.GatewayTimeout())
	}
	if cfg.GatewaySuccessMatch != "equals" {
		t.Fatalf("expected exact success matching by default, got %q", cfg.GatewaySuccessMatch)
	}
	if !reflect.DeepEqual(cfg.SuccessTokens(), []string{"OK", "success"}) {
		t.Fatalf("unexpected success tokens %v", cfg.SuccessTokens())
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins(), []string{"*"}) {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins())
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "5051")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "5051" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ClampsGatewayTimeout(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "GATEWAY_TIMEOUT_SECONDS", "60")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewayTimeoutSeconds != 15 {
		t.Fatalf("expected timeout clamped to 15, got %d", cfg.GatewayTimeoutSeconds)
	}
}

func TestLoadConfig_InvalidUnitPriceFallsBack(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "UNIT_PRICE", "six dinars")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.UnitPrice.StringFixed(2) != "6.00" {
		t.Fatalf("expected default unit price, got %s", cfg.UnitPrice)
	}
}

func TestLoadConfig_Aliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "GATEWAY_SECRET")
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")
	setEnvWithCleanup(t, "EDFALI_PW", "alias-secret")
	setEnvWithCleanup(t, "ALLOWED_ORIGINS", "https://saniah.ly, https://admin.saniah.ly")
	setEnvWithCleanup(t, "STORE_DRIVER", " Mongo ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewaySecret != "alias-secret" {
		t.Fatalf("expected secret from alias, got %q", cfg.GatewaySecret)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins(), []string{"https://saniah.ly", "https://admin.saniah.ly"}) {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins())
	}
	if cfg.StoreDriver != StoreDriverMongo {
		t.Fatalf("expected mongo driver, got %q", cfg.StoreDriver)
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
		}
	})
}
