package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/metrics"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Config     *config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "attendance-sync",
		Short: "Synchronize attendance data between site databases",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			opts.Config = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// app is the wiring shared by the commands: the local database, the location
// registry on top of it and the sync manager.
type app struct {
	db      *database.Database
	store   *store.SQLStore
	manager *sync.Manager
}

func openApp(ctx context.Context, cfg *config.Config, rec *metrics.Recorder) (*app, error) {
	db, err := database.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to local db: %w", err)
	}

	st := store.NewSQLStore(db)
	manager, err := sync.NewManager(cfg, db, st,
		sync.WithMetrics(rec),
		sync.WithNotifier(sync.NewBroadcaster(sync.LogNotifier{})),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{db: db, store: st, manager: manager}, nil
}

func (a *app) Close() {
	a.db.Close()
}
