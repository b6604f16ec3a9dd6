package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aliuyar1234/guidedq/internal/app"
	"github.com/aliuyar1234/guidedq/internal/config"
	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/aliuyar1234/guidedq/internal/retention"
	"github.com/spf13/cobra"
)

func newInvitationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invitations",
		Short: "Invitation maintenance",
	}
	cmd.AddCommand(newInvitationsMaintainCmd())
	return cmd
}

func newInvitationsMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Resend unsent invitations and purge stale ones once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			app.SetupLogger(cfg.LogLevel, cfg.IsDev())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			pool, err := db.Connect(ctx, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			svc, _, err := app.NewInvitationService(pool, cfg)
			if err != nil {
				return err
			}
			return retention.RunMaintenanceJob(ctx, svc)
		},
	}
}
