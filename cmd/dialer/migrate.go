package main

import (
	"fmt"

	"campaign-dialer/internal/migrations"
	"campaign-dialer/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, "up", func(url string) (uint, error) { return migrations.Up(url) })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all unless --steps is set)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, "down", func(url string) (uint, error) { return migrations.Down(url, migrateSteps) })
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}

func runMigration(cmd *cobra.Command, direction string, apply func(url string) (uint, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)

	v, err := apply(cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	log.Info("schema migrated", "direction", direction, "version", v)
	return nil
}
