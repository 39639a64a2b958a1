package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/pharmagate/libs/config"
	"github.com/md-rashed-zaman/pharmagate/libs/db"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply (up) or roll back one step of (down) the Postgres schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(db.MigrateUp), string(db.MigrateDown)},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return err
		}
		applied, err := db.Migrate(dbURL, storage.Migrations, storage.MigrationsDir, db.MigrateDirection(args[0]))
		if err != nil {
			return err
		}
		if applied {
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: no change\n", args[0])
		}
		return nil
	},
}
