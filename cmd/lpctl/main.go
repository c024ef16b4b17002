// Package main implements lpctl, a CLI for the launchpad HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the launchpad HTTP server
	serverURL string
	// tenantID is sent as X-Tenant-ID on session endpoints
	tenantID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lpctl",
	Short: "CLI for launchpad pipelines and approvals",
	Long: `lpctl is a command-line interface for the launchpad HTTP server.
It starts generation pipelines, follows their progress, and answers
founder approval requests.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("LAUNCHPAD_SERVER", "http://localhost:9090"), "launchpad server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv("LAUNCHPAD_TENANT"), "tenant id (or LAUNCHPAD_TENANT)")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(approveCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check launchpad server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := newClient().do(cmd.Context(), "GET", "/health", false, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
		return nil
	},
}
