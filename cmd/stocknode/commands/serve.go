package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/efreitasn/stockshares/internal/app"
	"github.com/efreitasn/stockshares/internal/handler"
)

// NewServeCmd returns the command that starts every configured node and
// serves their HTTP API until SIGINT or SIGTERM.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stock nodes and their HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	cmd.Flags().String("parties", "", "Comma-separated parties hosted by this process")
	cmd.Flags().String("vault-backend", "", "Vault backend: memory | postgres")
	cmd.Flags().String("database-url", "", "Postgres connection string for the postgres vault backend")
	cmd.Flags().String("notary-db-backend", "", "Notary database backend: memdb | goleveldb")
	cmd.Flags().String("notary-db-dir", "", "Notary database directory")
	return cmd
}

func serve() error {
	a, err := app.New(cfg, logger, app.PrometheusMetrics("stocks"))
	if err != nil {
		return fmt.Errorf("failed to create nodes: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	router := handler.NewRouter(a.Stocks, a.Webhooks, promhttp.Handler(), logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			a.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	if err := a.Close(); err != nil {
		logger.Error("closing nodes", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}
