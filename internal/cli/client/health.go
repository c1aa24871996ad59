package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// HealthCmd creates the health command.
func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClient(ResolveServerURL(cmd))

			resp, err := api.Get("/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			var health struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(resp.Data, &health); err != nil {
				return fmt.Errorf("failed to parse health response: %w", err)
			}

			fmt.Printf("%s: %s\n", api.baseURL, health.Status)
			return nil
		},
	}
}
