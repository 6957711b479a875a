package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mudcore/internal/compiler"
	"mudcore/internal/persist"
	"mudcore/internal/watcher"
)

// watchCmd runs the world until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the world with hot reload",
	Long: `Preloads the configured modules, restores the saved records, then
recompiles loaded modules whenever their source changes. Records are
saved back to the database on shutdown.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(0)
	defer cancel()

	d := newDriver(cfg)
	if err := d.Preload(ctx, cfg.Preload); err != nil {
		return err
	}

	store, err := persist.NewStore(cfg.Persistence.Driver, cfg.Persistence.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	states, err := store.Load(ctx)
	if err != nil {
		return err
	}
	restored, err := d.Restore(ctx, states)
	if err != nil {
		logger.Warn("Some objects could not be restored", zap.Error(err))
	}
	logger.Info("World ready",
		zap.Int("modules", d.Cache().Len()),
		zap.Int("objects", len(restored)))

	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Compiler.SourceRoot, d, cfg.GetDebounce())
		if err != nil {
			return err
		}
		w.OnResult(func(path string, res *compiler.Result, err error) {
			if err != nil {
				logger.Error("Reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("Reloaded",
				zap.String("path", path),
				zap.Int("modules", len(res.Batch)),
				zap.Int("migrated", len(res.Migrated)),
				zap.Int("failed", len(res.Failed())))
		})
		// Pick up edits made while the world was down.
		w.Sync(ctx)
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return err
		}
		defer func() {
			w.Stop()
			s := w.Stats()
			logger.Info("Watcher stopped",
				zap.Int("recompiles", s.Recompiles),
				zap.Int("errors", s.Errors))
		}()
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer saveCancel()
	return store.Save(saveCtx, d.Records().Snapshot())
}
