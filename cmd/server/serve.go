package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendance-sync-service/internal/api"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/metrics"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	cfg := rootOpts.Config
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("Starting attendance sync service")

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		shutdown, err := metrics.Setup(cfg.Metrics.GetInterval())
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Log.Warn("Failed to flush metrics", zap.Error(err))
			}
		}()
		rec = metrics.NewGlobal()
	}

	a, err := openApp(ctx, cfg, rec)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := store.Migrate(ctx, a.db); err != nil {
		return err
	}

	scheduler := sync.NewScheduler(cfg.Scheduler, a.manager, a.store)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		handler := api.NewHandler(cfg.Server, a.manager, scheduler, a.store)
		serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		server := &http.Server{
			Addr:         serverAddr,
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.GetReadTimeout(),
			WriteTimeout: cfg.Server.GetWriteTimeout(),
		}

		g.Go(func() error {
			logger.Log.Info("Server listening", zap.String("addr", serverAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	logger.Log.Info("Stopped attendance sync service")
	return err
}
