package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jomardyan/scriptdex/internal/store"
)

// Run starts the application with the given options: it opens the inventory,
// registers configured roots, kicks off an initial scan per root, starts
// watchers for watch-enabled roots, and blocks until a shutdown signal.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("roots", len(cfg.Roots)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	inv, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init inventory: %w", err)
	}
	defer inv.Close()

	engine := NewEngine(inv, cfg.Engine, logger)
	defer engine.Close()

	rootIDs, err := registerRoots(ctx, engine, cfg, logger)
	if err != nil {
		return err
	}

	// Initial full scan per root; independent roots scan concurrently.
	for _, id := range rootIDs {
		if _, err := engine.StartScan(ctx, id, true); err != nil {
			logger.Warn("initial scan failed to start",
				slog.Int64("root_id", id),
				slog.String("error", err.Error()))
		}
	}

	// Watchers for watch-enabled roots.
	roots, err := engine.Roots(ctx)
	if err != nil {
		return fmt.Errorf("list roots: %w", err)
	}
	for _, root := range roots {
		if !root.WatchEnabled {
			continue
		}
		if _, err := engine.StartWatch(ctx, root.ID); err != nil {
			logger.Warn("watch failed to start",
				slog.Int64("root_id", root.ID),
				slog.String("error", err.Error()))
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Drain the engine feed into the log so operators see activity.
	g.Go(func() error {
		sub := engine.Events().Subscribe()
		defer engine.Events().Unsubscribe(sub)
		for {
			select {
			case <-gCtx.Done():
				return nil
			case ev, ok := <-sub:
				if !ok {
					return nil
				}
				if ev.Change != nil {
					logger.Info("change",
						slog.Int64("root_id", ev.RootID),
						slog.String("kind", ev.Change.Kind),
						slog.String("path", ev.Change.RelPath))
				}
			}
		}
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Engine stopped successfully")
	return nil
}

// registerRoots persists configured roots that are not yet in the inventory
// and returns the IDs of every configured root.
func registerRoots(ctx context.Context, engine *Engine, cfg *Config, logger *slog.Logger) ([]int64, error) {
	existing, err := engine.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	byPath := make(map[string]int64, len(existing))
	for _, r := range existing {
		byPath[r.Path] = r.ID
	}

	var ids []int64
	for i := range cfg.Roots {
		root := cfg.Roots[i].FolderRoot()
		if id, ok := byPath[root.Path]; ok {
			ids = append(ids, id)
			continue
		}
		if err := engine.RegisterRoot(ctx, &root); err != nil {
			logger.Warn("root registration failed",
				slog.String("path", root.Path),
				slog.String("error", err.Error()))
			continue
		}
		logger.Info("root registered",
			slog.Int64("root_id", root.ID),
			slog.String("path", root.Path))
		ids = append(ids, root.ID)
	}
	return ids, nil
}
