// minipassctl is the operator CLI for the minipass control plane. It talks
// to the running server over its admin API so every lifecycle operation
// goes through the server's own locking and work queue.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	apiURL     string
	adminToken string
)

var rootCmd = &cobra.Command{
	Use:   "minipassctl",
	Short: "Operate the minipass customer platform",
	Long: `minipassctl provisions, upgrades and removes customer deployments by
calling the minipass control plane's admin API.

The API address and token come from --api-url / --token or from the
MINIPASS_API_URL / MINIPASS_ADMIN_TOKEN environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if apiURL == "" {
			apiURL = envOr("MINIPASS_API_URL", "http://localhost:8080")
		}
		if adminToken == "" {
			adminToken = os.Getenv("MINIPASS_ADMIN_TOKEN")
		}
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "control plane base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "", "admin bearer token")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
