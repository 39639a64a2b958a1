package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/pharmagate/libs/config"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/plans"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the effective plan catalog and flag tiers that drop capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("catalog")
		if path == "" {
			path = config.String("PLAN_CATALOG_PATH", "")
		}
		catalog, err := plans.LoadCatalog(path, capability.Default())
		if err != nil {
			return err
		}
		raw, err := plans.MarshalCatalog(catalog)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(raw); err != nil {
			return err
		}
		for _, gap := range plans.MonotonicGaps(catalog) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", gap)
		}
		return nil
	},
}

func init() {
	plansCmd.Flags().String("catalog", "", "path to a plan catalog YAML file (default: embedded catalog)")
}
