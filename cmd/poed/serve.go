package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/poe/app"
	"github.com/blockberries/poe/config"
	poegrpc "github.com/blockberries/poe/grpc"
	"github.com/blockberries/poe/metrics"
	"github.com/blockberries/poe/store"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry application over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func openStore(cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendLevelDB:
		var opts []store.LevelDBOption
		if cfg.Store.NoSync {
			opts = append(opts, store.NoSync())
		}
		return store.OpenLevelDB(cfg.Store.Path, opts...)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := app.New(kv,
		app.WithLogger(logger.With("module", "app")),
		app.WithMetrics(metrics.New(reg)),
		app.WithMaxClaimLength(cfg.Registry.MaxClaimLength),
	)
	grpcSrv := poegrpc.NewGRPCServer(a, logger.With("module", "grpc")).NewServer()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving gRPC", "addr", lis.Addr().String(), "store", cfg.Store.Backend)
		return grpcSrv.Serve(lis)
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		grpcSrv.GracefulStop()
		if metricsSrv == nil {
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(sctx)
	})

	return g.Wait()
}
