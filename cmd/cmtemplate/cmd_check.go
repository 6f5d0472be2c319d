package main

import (
	"context"
	"fmt"
	"time"

	"github.com/data-power-io/cmdump-templates/internal/config"
	"github.com/data-power-io/cmdump-templates/internal/objectstore"
	"github.com/data-power-io/cmdump-templates/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the configured S3 bucket and PostgreSQL database are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return a.check(ctx, cmd)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for each check")
	return cmd
}

func (a *app) check(ctx context.Context, cmd *cobra.Command) error {
	checked := 0

	if a.cfg.S3Enabled() {
		s3cfg := a.cfg.GetS3Config()
		if err := config.ValidateS3Config(s3cfg); err != nil {
			return fmt.Errorf("invalid S3 configuration: %w", err)
		}
		client, err := objectstore.NewClient(s3cfg, a.logger.Logger)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx); err != nil {
			a.logger.Error("Health check failed", zap.String("target", "s3"), zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "s3: ok (%s)\n", s3cfg["bucket"])
		checked++
	}

	if a.cfg.StoreEnabled() {
		conn := a.cfg.GetConnectionConfig()
		s, err := store.NewStore(conn, a.logger.Logger)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Ping(ctx); err != nil {
			a.logger.Error("Health check failed", zap.String("target", "postgres"), zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "postgres: ok (%s)\n", conn["database"])
		checked++
	}

	if checked == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to check: neither S3 nor PostgreSQL is configured")
	}
	return nil
}
