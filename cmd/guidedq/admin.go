package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Account administration",
	}
	cmd.AddCommand(newResetPasswordCmd())
	cmd.AddCommand(newSetActiveCmd())
	return cmd
}

func resolveDSN(flagValue string) (string, error) {
	dsn := strings.TrimSpace(flagValue)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("GQ_DB_DSN"))
	}
	if dsn == "" {
		return "", errors.New("--db-dsn is required (or set GQ_DB_DSN)")
	}
	return dsn, nil
}

func openPool(ctx context.Context, flagValue string) (*pgxpool.Pool, error) {
	dsn, err := resolveDSN(flagValue)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func newResetPasswordCmd() *cobra.Command {
	var (
		email    string
		password string
		dbDSN    string
	)

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for an account",
		Long:  "Set a new password for an account. If --password is omitted, a random password is generated and printed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return errors.New("--email is required")
			}

			generated := false
			if password == "" {
				pw, err := generatePassword(24)
				if err != nil {
					return fmt.Errorf("failed to generate password: %w", err)
				}
				password = pw
				generated = true
			}
			if len(password) < auth.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
			}

			passwordHash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			pool, err := openPool(ctx, dbDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := auth.NewUsers(pool).SetPasswordHash(ctx, email, passwordHash); err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					return fmt.Errorf("no user found with email %q", email)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
			if generated {
				fmt.Fprintln(cmd.OutOrStdout(), password)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&password, "password", "", "New password (if empty, generates one)")
	cmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to GQ_DB_DSN)")
	return cmd
}

func newSetActiveCmd() *cobra.Command {
	var (
		email  string
		active bool
		dbDSN  string
	)

	cmd := &cobra.Command{
		Use:   "set-active",
		Short: "Activate or deactivate an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			pool, err := openPool(ctx, dbDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			users := auth.NewUsers(pool)
			user, err := users.GetByEmail(ctx, email)
			if err != nil {
				return err
			}
			if err := users.SetActive(ctx, user.ID, active); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", user, active)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().BoolVar(&active, "active", true, "Whether the account may sign in")
	cmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to GQ_DB_DSN)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func generatePassword(bytesLen int) (string, error) {
	if bytesLen < 8 {
		bytesLen = 8
	}

	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
