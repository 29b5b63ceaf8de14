package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/MarkoPoloResearchLab/commissions/internal/authz"
	"github.com/MarkoPoloResearchLab/commissions/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/commissions/internal/httpapi"
	"github.com/MarkoPoloResearchLab/commissions/internal/observability"
	"github.com/MarkoPoloResearchLab/commissions/internal/sweeper"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const sweepLockKey = "commissions:auto-release"

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API, the gRPC service and the auto-release sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *runtimeConfig) error {
	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	application, err := openApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer application.close()
	logger := application.logger

	authorizer, err := authz.New(authz.Config{Admins: cfg.Admins, Superadmins: cfg.Superadmins})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	httpConfig := httpapi.Config{
		ListenAddr:        cfg.HTTPListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
		SweepBatchSize:    cfg.SweepBatchSize,
	}
	httpDeps := httpapi.Dependencies{
		Service:    application.service,
		Authorizer: authorizer,
		Metrics:    metrics.Handler(),
		Logger:     logger,
	}
	group.Go(func() error {
		return httpapi.Run(groupCtx, httpConfig, httpDeps)
	})

	if cfg.GRPCListenAddr != "" {
		grpcServer, err := newGRPCServer(cfg, application, authorizer)
		if err != nil {
			return err
		}
		listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		group.Go(func() error {
			logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
			serveErr := grpcServer.Serve(listener)
			if errors.Is(serveErr, grpc.ErrServerStopped) {
				return nil
			}
			return serveErr
		})
		group.Go(func() error {
			<-groupCtx.Done()
			logger.Info("shutdown requested")
			grpcServer.GracefulStop()
			return nil
		})
	}

	if cfg.SweepInterval > 0 {
		autoRelease, cleanup, err := newSweeper(cfg, application, metrics)
		if err != nil {
			return err
		}
		defer cleanup()
		group.Go(func() error {
			return autoRelease.Run(groupCtx)
		})
	}

	return group.Wait()
}

func newGRPCServer(cfg *runtimeConfig, application *app, authorizer *authz.Authorizer) (*grpc.Server, error) {
	authenticator, err := grpcserver.NewAuthenticator(grpcserver.TokenConfig{
		SigningKey: []byte(cfg.GRPCTokenKey),
		Issuer:     cfg.GRPCTokenIssuer,
	}, authorizer)
	if err != nil {
		return nil, err
	}
	return grpcserver.NewServer(application.service, authenticator, application.logger), nil
}

func newSweeper(cfg *runtimeConfig, application *app, observer sweeper.Observer) (*sweeper.Sweeper, func(), error) {
	options := []sweeper.Option{sweeper.WithLogger(application.logger)}
	if observer != nil {
		options = append(options, sweeper.WithObserver(observer))
	}
	cleanup := func() {}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		cleanup = func() { _ = client.Close() }
		options = append(options, sweeper.WithLocker(sweeper.NewRedisLock(client, sweepLockKey)))
	}
	autoRelease, err := sweeper.New(application.service, sweeper.Config{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	}, options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return autoRelease, cleanup, nil
}
