package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var (
		dbDSN  string
		status bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := resolveDSN(dbDSN)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pool, err := db.Connect(ctx, dsn)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			if status {
				pending, err := db.PendingMigrations(ctx, pool)
				if err != nil {
					return err
				}
				for _, version := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), "pending", version)
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				}
				return nil
			}

			applied, err := db.RunMigrations(ctx, pool)
			if err != nil {
				return err
			}
			log.Info().Strs("versions", applied).Msg("Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to GQ_DB_DSN)")
	cmd.Flags().BoolVar(&status, "status", false, "List pending migrations without applying them")
	return cmd
}
