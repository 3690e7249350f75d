package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/efreitasn/stockshares/internal/config"
)

var (
	v      = config.NewViper()
	cfg    *config.Config
	logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
)

// NewRootCmd returns the stocknode root command. Its persistent flags
// override the matching STOCKS_* environment variables.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stocknode",
		Short:         "Stock share tokens on a permissioned ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			var err error
			if cfg, err = config.LoadFrom(v); err != nil {
				logger.Error("failed to load config", slog.String("error", err.Error()))
				return err
			}
			logger = newLogger(cfg.LogLevel)
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().Int("port", 8080, "HTTP port")
	return cmd
}

// bindFlags binds every flag the user set to the config key of the same
// name, with dashes replaced by underscores.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for _, name := range []string{"log-level", "port", "parties", "vault-backend", "database-url", "notary-db-backend", "notary-db-dir"} {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(configKey(name), f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func configKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
