package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/commissions/internal/money"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/spf13/cobra"
)

const (
	flagConfirm = "confirm"
	flagLimit   = "limit"
	flagSubject = "subject"
	flagTTL     = "ttl"
)

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			driver, _, err := resolveDriver(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if driver != driverPostgres {
				return errors.New("migrate requires a postgres database url; sqlite is auto-migrated on start")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			_, cleanup, err := openPgxStore(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			cleanup()
			return nil
		},
	}
}

func newResetCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Cancel every commission and zero every agent balance",
		Long: "Cancels every commission, clears every settlement flag and zeroes every agent balance in one transaction.\n" +
			"Pass --confirm with the exact phrase \"" + commission.ResetConfirmationPhrase + "\"; without --confirm nothing happens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			var confirmation *string
			if cmd.Flags().Changed(flagConfirm) {
				value, err := cmd.Flags().GetString(flagConfirm)
				if err != nil {
					return err
				}
				confirmation = &value
			}
			application, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer application.close()
			return runReset(ctx, cmd.OutOrStdout(), application, cfg, confirmation)
		},
	}
	cmd.Flags().String(flagConfirm, "", "confirmation phrase")
	return cmd
}

func runReset(ctx context.Context, out io.Writer, application *app, cfg *runtimeConfig, confirmation *string) error {
	actor, err := cfg.actor()
	if err != nil {
		return err
	}
	result, err := application.service.ResetAllCommissions(ctx, actor, confirmation)
	if err != nil {
		return err
	}
	if result.Outcome == commission.ResetOutcomeCancelled {
		_, err = fmt.Fprintln(out, "reset cancelled: no confirmation given")
		return err
	}
	_, err = fmt.Fprintf(out, "reset completed: %d orders, %d agents\n", result.OrdersReset, result.UsersReset)
	return err
}

func newUnsettledCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsettled",
		Short: "List available commissions missing from their agent balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			application, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer application.close()
			return runUnsettled(ctx, cmd.OutOrStdout(), application, limit)
		},
	}
	cmd.Flags().Int(flagLimit, 0, "maximum rows (0 uses the default)")
	return cmd
}

func runUnsettled(ctx context.Context, out io.Writer, application *app, limit int) error {
	rows, err := application.service.ListUnsettled(ctx, limit)
	if err != nil {
		return err
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ORDER\tAGENT\tCOUPON\tAMOUNT\tAVAILABLE AT")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			row.Order.OrderID.String(),
			row.Agent.FullName,
			row.Agent.CouponCode,
			money.Format(row.Order.Commission.Amount),
			row.Order.Commission.AvailableAt.Format(time.DateOnly),
		)
	}
	return writer.Flush()
}

func newSweepCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release every pending commission whose release date has passed, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			application, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer application.close()
			return runSweep(ctx, cmd.OutOrStdout(), cfg, application)
		},
	}
}

func runSweep(ctx context.Context, out io.Writer, cfg *runtimeConfig, application *app) error {
	autoRelease, cleanup, err := newSweeper(cfg, application, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	result, err := autoRelease.RunOnce(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "released %d, skipped %d, failed %d\n", len(result.Released), len(result.Skipped), len(result.Failed))
	return err
}

func newTokenCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a gRPC bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := cmd.Flags().GetString(flagSubject)
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration(flagTTL)
			if err != nil {
				return err
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			if cfg.GRPCTokenKey == "" {
				return errors.New("--grpc-token-key is required")
			}
			token, err := grpcserver.SignToken(grpcserver.TokenConfig{
				SigningKey: []byte(cfg.GRPCTokenKey),
				Issuer:     cfg.GRPCTokenIssuer,
			}, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(flagSubject, "", "subject (email or user id) the token acts as")
	cmd.Flags().Duration(flagTTL, time.Hour, "token lifetime")
	return cmd
}
