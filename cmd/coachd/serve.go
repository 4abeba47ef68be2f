package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/coachgraph/internal/config"
	"github.com/dshills/coachgraph/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "Override the listen address")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())
	logger := s.logger.Named("serve")

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(s.registry))
	}
	if s.records != nil {
		opts = append(opts, server.WithRecords(s.records))
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(s.runner, opts...).Handler(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := config.Duration(cfg.Server.ShutdownTimeout)
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if s.knowledge != nil && cfg.Knowledge.Watch {
		g.Go(func() error {
			if err := s.knowledge.Watch(ctx, nil); err != nil {
				logger.Warn("knowledge watch stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
