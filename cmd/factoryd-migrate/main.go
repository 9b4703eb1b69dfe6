package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codefactory/orchestrator/pkg/config"
	"github.com/codefactory/orchestrator/pkg/gateway"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var dsnFlag string

var rootCmd = &cobra.Command{
	Use:   "factoryd-migrate",
	Short: "Apply or inspect schema migrations for the orchestration kernel's durable store",
}

func init() {
	cfg := config.FromEnv()
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", cfg.DatabaseDSN, "Postgres DSN (defaults to FACTORY_DATABASE_DSN)")

	rootCmd.AddCommand(
		migrateCmd("up", "Apply all pending migrations"),
		migrateCmd("down", "Roll back the most recently applied migration"),
		migrateCmd("status", "Print the status of each migration"),
		migrateCmd("redo", "Roll back and reapply the most recent migration"),
		migrateCmd("version", "Print the current schema version"),
	)
}

func migrateCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateway.Migrate(context.Background(), dsnFlag, name)
		},
	}
}
