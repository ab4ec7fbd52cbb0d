package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/db"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Apply the embedded schema files in order. Every statement is idempotent, so re-running is safe.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.DatabaseURL == "" {
				return fmt.Errorf("database_url is required (set DATABASE_URL)")
			}
			ctx := cmd.Context()
			conn, err := db.Connect(ctx, c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := conn.Migrate(ctx)
			for _, name := range applied {
				c.logger.Info("applied schema", zap.String("file", name))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d schema files\n", len(applied))
			return nil
		},
	}
}
