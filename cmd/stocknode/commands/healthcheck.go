package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewHealthcheckCmd returns a command that probes a running node's
// /healthz endpoint on the configured port and fails unless it answers 200.
func NewHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check a running node is healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://localhost:%d/healthz", cfg.Port))
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthz returned %d", resp.StatusCode)
			}
			return nil
		},
	}
}
