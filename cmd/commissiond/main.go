package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/observability"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "commissiond: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "commissiond",
		Short:         "Referral commission ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
	}
	registerFlags(cmd)

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newResetCommand(cfg),
		newUnsettledCommand(cfg),
		newSweepCommand(cfg),
		newTokenCommand(cfg),
	)
	return cmd
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(cfg *runtimeConfig) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogLevel == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}

// app bundles what every subcommand needs: a logger, an open store and a
// service that logs operations through zap and, when given, metrics.
type app struct {
	logger  *zap.Logger
	service *commission.Service
	close   func()
}

func openApp(ctx context.Context, cfg *runtimeConfig, metrics *observability.Metrics) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	operationLoggers := observability.MultiOperationLogger{observability.NewZapOperationLogger(logger)}
	if metrics != nil {
		operationLoggers = append(operationLoggers, metrics)
	}
	service, err := commission.NewService(store, func() time.Time { return time.Now().UTC() },
		commission.WithOperationLogger(operationLoggers))
	if err != nil {
		cleanup()
		_ = logger.Sync()
		return nil, fmt.Errorf("commission service init: %w", err)
	}
	return &app{
		logger:  logger,
		service: service,
		close: func() {
			cleanup()
			_ = logger.Sync()
		},
	}, nil
}

func (cfg *runtimeConfig) actor() (commission.Actor, error) {
	if cfg.Actor == "" {
		return commission.SystemActor, nil
	}
	return commission.NewActor(cfg.Actor)
}
