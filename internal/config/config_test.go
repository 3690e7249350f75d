package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var configKeys = []string{
	"port", "log_level", "parties", "notary", "maintainer", "currency",
	"currency_digits", "stock_fraction_digits", "session_timeout", "lock_ttl",
	"lock_reap_interval", "webhook_timeout", "vault_backend", "database_url",
	"notary_db_backend", "notary_db_dir", "read_timeout", "write_timeout",
	"idle_timeout", "shutdown_timeout",
}

func envKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(envKey(key), "")
		os.Unsetenv(envKey(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &Config{
		Port:                8080,
		LogLevel:            "info",
		Parties:             []string{"partyA", "partyB", "partyC", "StocksManager", "Bank"},
		Notary:              "Notary",
		Maintainer:          "StocksManager",
		Currency:            "GBP",
		CurrencyDigits:      2,
		StockFractionDigits: 4,
		SessionTimeout:      30 * time.Second,
		LockTTL:             2 * time.Minute,
		LockReapInterval:    5 * time.Second,
		WebhookTimeout:      5 * time.Second,
		VaultBackend:        VaultMemory,
		NotaryDBBackend:     NotaryMemDB,
		NotaryDBDir:         "data",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        30 * time.Second,
		IdleTimeout:         60 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKS_PORT", "9090")
	t.Setenv("STOCKS_LOG_LEVEL", "debug")
	t.Setenv("STOCKS_PARTIES", "Alice, Bob ,Issuer")
	t.Setenv("STOCKS_MAINTAINER", "Issuer")
	t.Setenv("STOCKS_CURRENCY", "USD")
	t.Setenv("STOCKS_SESSION_TIMEOUT", "3s")
	t.Setenv("STOCKS_VAULT_BACKEND", "postgres")
	t.Setenv("STOCKS_DATABASE_URL", "postgres://localhost/stocks?sslmode=disable")
	t.Setenv("STOCKS_NOTARY_DB_BACKEND", "goleveldb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if diff := cmp.Diff([]string{"Alice", "Bob", "Issuer"}, cfg.Parties); diff != "" {
		t.Errorf("Parties mismatch (-want +got):\n%s", diff)
	}
	if cfg.Maintainer != "Issuer" || cfg.Currency != "USD" {
		t.Errorf("Maintainer = %q, Currency = %q", cfg.Maintainer, cfg.Currency)
	}
	if cfg.SessionTimeout != 3*time.Second {
		t.Errorf("SessionTimeout = %v, want 3s", cfg.SessionTimeout)
	}
	if cfg.VaultBackend != VaultPostgres || cfg.NotaryDBBackend != NotaryGoLevel {
		t.Errorf("backends = %q, %q", cfg.VaultBackend, cfg.NotaryDBBackend)
	}
}

func TestLoadFrom_OverridesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKS_PORT", "9090")

	v := NewViper()
	v.Set("port", 7070)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Port)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port not a number", map[string]string{"port": "not-a-number"}, "invalid port"},
		{"port out of range", map[string]string{"port": "70000"}, "invalid port"},
		{"log level", map[string]string{"log_level": "verbose"}, "invalid log_level"},
		{"empty party", map[string]string{"parties": "partyA,,StocksManager"}, "invalid parties"},
		{"duplicate party", map[string]string{"parties": "partyA,partyA,StocksManager"}, "invalid parties"},
		{"notary as party", map[string]string{"parties": "Notary,StocksManager"}, "invalid parties"},
		{"maintainer not hosted", map[string]string{"maintainer": "Elsewhere"}, "invalid maintainer"},
		{"digits out of range", map[string]string{"stock_fraction_digits": "12"}, "invalid stock_fraction_digits"},
		{"unknown vault backend", map[string]string{"vault_backend": "sqlite"}, "invalid vault_backend"},
		{"postgres without url", map[string]string{"vault_backend": "postgres"}, "invalid database_url"},
		{"unknown notary backend", map[string]string{"notary_db_backend": "badger"}, "invalid notary_db_backend"},
		{"negative duration", map[string]string{"lock_ttl": "-1s"}, "invalid lock_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(envKey(k), v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	keys := []string{
		"session_timeout", "lock_ttl", "lock_reap_interval", "webhook_timeout",
		"read_timeout", "write_timeout", "idle_timeout", "shutdown_timeout",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(envKey(key), "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}
