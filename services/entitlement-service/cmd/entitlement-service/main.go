package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/pharmagate/libs/config"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "entitlement-service",
	Short:         "Plan entitlements, quotas and upgrade workflow for pharmacy and clinic tenants",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "entitlement-service %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, plansCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
