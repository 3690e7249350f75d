// Package config loads the node runtime configuration from defaults,
// STOCKS_* environment variables and bound command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "STOCKS"

// Vault and notary storage backends.
const (
	VaultMemory   = "memory"
	VaultPostgres = "postgres"

	NotaryMemDB    = "memdb"
	NotaryGoLevel  = "goleveldb"
	defaultParties = "partyA,partyB,partyC,StocksManager,Bank"
)

// Config holds all runtime configuration for a stock node process.
type Config struct {
	Port     int
	LogLevel string

	// Parties are the nodes hosted by this process, besides the notary.
	Parties             []string
	Notary              string
	Maintainer          string
	Currency            string
	CurrencyDigits      int32
	StockFractionDigits int32

	SessionTimeout   time.Duration
	LockTTL          time.Duration
	LockReapInterval time.Duration
	WebhookTimeout   time.Duration

	VaultBackend    string
	DatabaseURL     string
	NotaryDBBackend string
	NotaryDBDir     string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewViper returns a viper instance with every default set and
// environment lookup enabled. Callers may bind flags to it before passing
// it to LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("parties", defaultParties)
	v.SetDefault("notary", "Notary")
	v.SetDefault("maintainer", "StocksManager")
	v.SetDefault("currency", "GBP")
	v.SetDefault("currency_digits", 2)
	v.SetDefault("stock_fraction_digits", 4)
	v.SetDefault("session_timeout", "30s")
	v.SetDefault("lock_ttl", "2m")
	v.SetDefault("lock_reap_interval", "5s")
	v.SetDefault("webhook_timeout", "5s")
	v.SetDefault("vault_backend", VaultMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("notary_db_backend", NotaryMemDB)
	v.SetDefault("notary_db_dir", "data")
	v.SetDefault("read_timeout", "5s")
	v.SetDefault("write_timeout", "30s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults and the environment and
// validates it.
func Load() (*Config, error) {
	return LoadFrom(NewViper())
}

// LoadFrom builds a Config from v and validates it. It returns an error
// for any invalid value.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.Port, err = getInt(v, "port"); err != nil {
		return nil, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d, must be between 1 and 65535", cfg.Port)
	}

	cfg.LogLevel = v.GetString("log_level")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log_level: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	cfg.Notary = strings.TrimSpace(v.GetString("notary"))
	if cfg.Notary == "" {
		return nil, fmt.Errorf("invalid notary: must not be empty")
	}
	if cfg.Parties, err = parseParties(v.GetString("parties"), cfg.Notary); err != nil {
		return nil, err
	}
	cfg.Maintainer = strings.TrimSpace(v.GetString("maintainer"))
	if !contains(cfg.Parties, cfg.Maintainer) {
		return nil, fmt.Errorf("invalid maintainer: %q is not one of the hosted parties", cfg.Maintainer)
	}

	cfg.Currency = strings.TrimSpace(v.GetString("currency"))
	if cfg.Currency == "" {
		return nil, fmt.Errorf("invalid currency: must not be empty")
	}
	if cfg.CurrencyDigits, err = getDigits(v, "currency_digits"); err != nil {
		return nil, err
	}
	if cfg.StockFractionDigits, err = getDigits(v, "stock_fraction_digits"); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"session_timeout", &cfg.SessionTimeout},
		{"lock_ttl", &cfg.LockTTL},
		{"lock_reap_interval", &cfg.LockReapInterval},
		{"webhook_timeout", &cfg.WebhookTimeout},
		{"read_timeout", &cfg.ReadTimeout},
		{"write_timeout", &cfg.WriteTimeout},
		{"idle_timeout", &cfg.IdleTimeout},
		{"shutdown_timeout", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(v, d.key); err != nil {
			return nil, err
		}
	}

	cfg.VaultBackend = v.GetString("vault_backend")
	cfg.DatabaseURL = v.GetString("database_url")
	switch cfg.VaultBackend {
	case VaultMemory:
	case VaultPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("invalid database_url: required when vault_backend is %s", VaultPostgres)
		}
	default:
		return nil, fmt.Errorf("invalid vault_backend: %q, must be one of: memory, postgres", cfg.VaultBackend)
	}

	cfg.NotaryDBBackend = v.GetString("notary_db_backend")
	if cfg.NotaryDBBackend != NotaryMemDB && cfg.NotaryDBBackend != NotaryGoLevel {
		return nil, fmt.Errorf("invalid notary_db_backend: %q, must be one of: memdb, goleveldb", cfg.NotaryDBBackend)
	}
	cfg.NotaryDBDir = v.GetString("notary_db_dir")

	return &cfg, nil
}

func getInt(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDigits(v *viper.Viper, key string) (int32, error) {
	n, err := getInt(v, key)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 8 {
		return 0, fmt.Errorf("invalid %s: %d, must be between 0 and 8", key, n)
	}
	return int32(n), nil
}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: %s, must be positive", key, d)
	}
	return d, nil
}

func parseParties(s, notary string) ([]string, error) {
	var parties []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("invalid parties: %q contains an empty name", s)
		}
		if p == notary {
			return nil, fmt.Errorf("invalid parties: %q is the notary", p)
		}
		if contains(parties, p) {
			return nil, fmt.Errorf("invalid parties: %q is listed more than once", p)
		}
		parties = append(parties, p)
	}
	return parties, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
