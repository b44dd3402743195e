package main

import (
	"github.com/spf13/cobra"

	"github.com/aiox-platform/recall/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL migrations for the memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("path"); path != "" {
			cfg.DB.MigrationsPath = path
		}
		return database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath)
	},
}

func init() {
	migrateCmd.Flags().String("path", "", "migrations directory (overrides DB_MIGRATIONS_PATH)")
	rootCmd.AddCommand(migrateCmd)
}
