// Package internal wires the scan engine together and exposes it to
// collaborators (CLI, API layers) as the Engine facade.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jomardyan/scriptdex/internal/analyze"
	"github.com/jomardyan/scriptdex/internal/events"
	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/scan"
	"github.com/jomardyan/scriptdex/internal/store"
	"github.com/jomardyan/scriptdex/internal/tree"
)

// Engine is the external interface of the cataloging core: scans, watches,
// duplicate/similarity queries, and folder trees. One Engine serves many
// roots; roots scan and watch independently of each other.
type Engine struct {
	inv     store.Inventory
	ledger  *scan.Ledger
	rec     *scan.Reconciler
	scanner *scan.Scanner
	watches *scan.WatchManager
	matcher *analyze.Matcher
	broker  *events.Broker
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc // scanID -> cancel
	wg      sync.WaitGroup
}

// NewEngine builds an engine over the inventory.
func NewEngine(inv store.Inventory, cfg EngineConfig, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	broker := events.NewBroker()

	ledger := scan.NewLedger(inv)
	rec := scan.NewReconciler(inv, cfg.MissingScanRetention, logger, broker.PublishChange)
	scanner := scan.NewScanner(rec, cfg.ScanWorkers, logger)
	watches := scan.NewWatchManager(rec, ledger, cfg.WatchDebounce, logger)

	matcher := analyze.NewMatcher(inv)
	if cfg.SimilarityMaxCandidates > 0 {
		matcher.MaxCandidates = cfg.SimilarityMaxCandidates
	}

	return &Engine{
		inv:     inv,
		ledger:  ledger,
		rec:     rec,
		scanner: scanner,
		watches: watches,
		matcher: matcher,
		broker:  broker,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// Close cancels in-flight scans, stops all watchers, and shuts the broker.
func (e *Engine) Close() {
	e.cancel()
	e.watches.StopAll()
	e.wg.Wait()
	e.broker.Close()
}

// Events exposes the engine's notification feed.
func (e *Engine) Events() *events.Broker {
	return e.broker
}

// RegisterRoot validates and persists a scan boundary. The path must be an
// existing, readable directory.
func (e *Engine) RegisterRoot(ctx context.Context, root *models.FolderRoot) error {
	if err := validation.ValidateStruct(root,
		validation.Field(&root.Path, validation.Required),
		validation.Field(&root.Name, validation.Required),
		validation.Field(&root.MaxFileSize, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("engine: invalid root: %w", err)
	}
	info, err := os.Stat(root.Path)
	if err != nil {
		return fmt.Errorf("engine: root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("engine: root path is not a directory: %s", root.Path)
	}
	if _, err := os.ReadDir(root.Path); err != nil {
		return fmt.Errorf("engine: root path not readable: %w", err)
	}
	return e.inv.RegisterRoot(ctx, root)
}

// Roots lists all registered roots.
func (e *Engine) Roots(ctx context.Context) ([]models.FolderRoot, error) {
	return e.inv.Roots(ctx)
}

// StartScan launches an asynchronous scan of rootID and returns the scan
// event ID for status polling. A root with a scan already pending or running
// yields apperr.ErrConcurrentScan.
func (e *Engine) StartScan(ctx context.Context, rootID int64, full bool) (int64, error) {
	root, err := e.inv.RootByID(ctx, rootID)
	if err != nil {
		return 0, err
	}

	ev, err := e.ledger.Begin(ctx, rootID, full)
	if err != nil {
		return 0, err
	}

	scanCtx, cancelScan := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.cancels[ev.ID] = cancelScan
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancelScan()
			e.mu.Lock()
			delete(e.cancels, ev.ID)
			e.mu.Unlock()
		}()
		e.runScan(scanCtx, root, ev, full)
	}()

	return ev.ID, nil
}

func (e *Engine) runScan(ctx context.Context, root models.FolderRoot, ev *models.ScanEvent, full bool) {
	if err := e.ledger.Start(ctx, ev); err != nil {
		e.logger.Error("engine: start scan", slog.String("error", err.Error()))
		_ = e.ledger.Fail(context.WithoutCancel(ctx), ev, scan.Result{}, err)
		return
	}
	e.broker.PublishScan(*ev)

	res, err := e.scanner.Run(ctx, root, full)

	// Finalize with an uncancellable context so an aborted scan still
	// records its terminal state.
	finCtx := context.WithoutCancel(ctx)
	if err != nil {
		e.logger.Warn("engine: scan failed",
			slog.Int64("root_id", root.ID),
			slog.Int64("scan_id", ev.ID),
			slog.String("error", err.Error()))
		_ = e.ledger.Fail(finCtx, ev, res, err)
	} else {
		_ = e.ledger.Finish(finCtx, ev, res)
	}
	e.broker.PublishScan(*ev)
}

// CancelScan aborts an in-flight scan. Batches not yet committed are
// discarded; the inventory keeps its pre-scan state for them.
func (e *Engine) CancelScan(scanID int64) {
	e.mu.Lock()
	cancelScan, ok := e.cancels[scanID]
	e.mu.Unlock()
	if ok {
		cancelScan()
	}
}

// ScanStatus returns the persisted scan event for polling.
func (e *Engine) ScanStatus(ctx context.Context, scanID int64) (models.ScanEvent, error) {
	return e.ledger.Status(ctx, scanID)
}

// StartWatch ensures a live watcher for rootID and returns its state.
// Idempotent: starting an already-active watch returns the current state.
func (e *Engine) StartWatch(ctx context.Context, rootID int64) (scan.WatchState, error) {
	root, err := e.inv.RootByID(ctx, rootID)
	if err != nil {
		return "", err
	}
	return e.watches.Start(root)
}

// StopWatch stops the watcher for rootID; a no-op when none is running.
func (e *Engine) StopWatch(rootID int64) {
	e.watches.Stop(rootID)
}

// WatchState reports the watcher state for rootID.
func (e *Engine) WatchState(rootID int64) (scan.WatchState, error) {
	return e.watches.State(rootID)
}

// ListDuplicates groups records sharing a digest (rootID 0 = all roots).
func (e *Engine) ListDuplicates(ctx context.Context, rootID int64) ([]analyze.DuplicateGroup, error) {
	return analyze.Duplicates(ctx, e.inv, rootID)
}

// FindSimilar returns near-duplicates of scriptID at or above threshold.
func (e *Engine) FindSimilar(ctx context.Context, scriptID int64, threshold float64) ([]analyze.Match, error) {
	return e.matcher.Similar(ctx, scriptID, threshold)
}

// FolderTree materializes the nested folder hierarchy for a root.
func (e *Engine) FolderTree(ctx context.Context, rootID int64) (*tree.Node, tree.Report, error) {
	folders, err := e.inv.Folders(ctx, rootID)
	if err != nil {
		return nil, tree.Report{}, err
	}
	return tree.Build(folders)
}

// ChangeLog returns the most recent change entries for a root.
func (e *Engine) ChangeLog(ctx context.Context, rootID int64, limit int) ([]models.ChangeLogEntry, error) {
	return e.inv.ChangeLog(ctx, rootID, limit)
}
