package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jomardyan/scriptdex/internal/models"
)

// Watcher states.
type WatchState string

const (
	// WatchActive means the OS subscription is live and events are flowing.
	WatchActive WatchState = "active"
	// WatchStopped means the watcher was stopped deterministically by Stop.
	WatchStopped WatchState = "stopped"
	// WatchStoppedWithError means the OS subscription was lost (e.g. the
	// watched root was deleted). The caller must restart explicitly; resuming
	// blindly could miss changes that happened while unsubscribed.
	WatchStoppedWithError WatchState = "stopped-with-error"
)

// pendingOp is the coalesced operation for one path inside the debounce
// window. Coalescing rules:
//   - upsert + remove  = remove
//   - remove + upsert  = upsert (file was replaced)
//   - upsert + upsert  = upsert
type pendingOp int

const (
	opUpsert pendingOp = iota
	opRemove
)

// Watcher subscribes to filesystem notifications for one root and feeds
// coalesced per-path events through the reconciler, serialized against full
// scans via the ledger token.
type Watcher struct {
	root     models.FolderRoot
	base     string
	rec      *Reconciler
	ledger   *Ledger
	debounce time.Duration
	logger   *slog.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state WatchState
	err   error
}

// StartWatcher creates and starts a watcher for root. The subscription covers
// the whole tree (new directories are added on the fly) when the root is
// recursive.
func StartWatcher(root models.FolderRoot, rec *Reconciler, ledger *Ledger, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	base, err := filepath.Abs(root.Path)
	if err != nil {
		return nil, err
	}
	if resolved, evalErr := filepath.EvalSymlinks(base); evalErr == nil {
		base = resolved
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addDirs(fw, base, root.Recursive); err != nil {
		fw.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:     root,
		base:     base,
		rec:      rec,
		ledger:   ledger,
		debounce: debounce,
		logger:   logger,
		fw:       fw,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    WatchActive,
	}
	go w.run(ctx)

	logger.Info("watcher: started",
		slog.Int64("root_id", root.ID),
		slog.String("path", base))
	return w, nil
}

// State returns the current lifecycle state and, for stopped-with-error, the
// cause.
func (w *Watcher) State() (WatchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.err
}

// Stop releases the OS subscription and waits for the event loop to drain.
// Safe to call multiple times.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
	w.mu.Lock()
	if w.state == WatchActive {
		w.state = WatchStopped
	}
	w.mu.Unlock()
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	w.state = WatchStoppedWithError
	w.err = err
	w.mu.Unlock()
	w.logger.Error("watcher: subscription lost",
		slog.Int64("root_id", w.root.ID),
		slog.String("error", err.Error()))
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.fw.Close()

	pending := make(map[string]pendingOp)
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(w.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			w.logger.Info("watcher: stopped", slog.Int64("root_id", w.root.ID))
			return

		case <-flushCh:
			batch := pending
			pending = make(map[string]pendingOp)
			w.flush(ctx, batch)

		case ev, ok := <-w.fw.Events:
			if !ok {
				w.fail(errors.New("event channel closed"))
				return
			}
			// The watched root itself going away is unrecoverable.
			if ev.Name == w.base && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.fail(errors.New("watched root removed"))
				return
			}
			if w.handleEvent(ev, pending) {
				schedule()
			}

		case watchErr, ok := <-w.fw.Errors:
			if !ok {
				w.fail(errors.New("error channel closed"))
				return
			}
			// An overflow means the OS dropped events; the inventory cannot
			// be trusted to track the tree until a full rescan.
			if errors.Is(watchErr, fsnotify.ErrEventOverflow) {
				w.fail(watchErr)
				return
			}
			w.logger.Error("watcher: error",
				slog.Int64("root_id", w.root.ID),
				slog.String("error", watchErr.Error()))
		}
	}
}

// handleEvent translates one fsnotify event into a pending coalesced op.
// Returns true when a flush should be (re)scheduled.
func (w *Watcher) handleEvent(ev fsnotify.Event, pending map[string]pendingOp) bool {
	abs := ev.Name

	// New directories join the subscription; files already inside them are
	// picked up as upserts.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			if !w.root.Recursive {
				return false
			}
			if addErr := addDirs(w.fw, abs, true); addErr != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", abs),
					slog.String("error", addErr.Error()))
			}
			w.enqueueDir(abs, pending)
			return true
		}
	}

	rel, ok := w.relevant(abs)
	if !ok {
		return false
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// remove + create inside one window is a replace; upsert wins.
		pending[rel] = opUpsert
	case ev.Op&fsnotify.Remove != 0:
		pending[rel] = opRemove
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the OLD path only; the new path arrives
		// as a separate Create. Identity is path-based, so this is a delete.
		pending[rel] = opRemove
	default:
		return false
	}
	return true
}

// enqueueDir stages every qualifying file under a newly created directory.
func (w *Watcher) enqueueDir(dir string, pending map[string]pendingOp) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.relevant(p); ok {
			pending[rel] = opUpsert
		}
		return nil
	})
}

// relevant applies the walker's include/exclude filters to an absolute event
// path and returns its slash-relative form.
func (w *Watcher) relevant(abs string) (string, bool) {
	rel, err := filepath.Rel(w.base, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	name := filepath.Base(abs)

	if !IsScriptFile(name) {
		return "", false
	}
	if len(w.root.IncludePatterns) > 0 && !matchAny(w.root.IncludePatterns, rel, name) {
		return "", false
	}
	if matchAny(w.root.ExcludePatterns, rel, name) {
		return "", false
	}
	return rel, true
}

// flush applies one debounced batch under the root's ledger token, so watch
// writes never interleave with a full scan.
func (w *Watcher) flush(ctx context.Context, batch map[string]pendingOp) {
	if len(batch) == 0 {
		return
	}

	ev, err := w.ledger.BeginWait(ctx, w.root.ID, false)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("watcher: begin failed", slog.String("error", err.Error()))
		}
		return
	}
	if err := w.ledger.Start(ctx, ev); err != nil {
		_ = w.ledger.Fail(ctx, ev, Result{}, err)
		return
	}

	var total Result
	for rel, op := range batch {
		res, err := w.applyOne(ctx, rel, op)
		if err != nil {
			w.logger.Warn("watcher: reconcile failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			total.ErrorPaths = append(total.ErrorPaths, rel)
			continue
		}
		total.New += res.New
		total.Updated += res.Updated
		total.Missing += res.Missing
		total.Resurrected += res.Resurrected
	}
	_ = w.ledger.Finish(ctx, ev, total)
}

func (w *Watcher) applyOne(ctx context.Context, rel string, op pendingOp) (Result, error) {
	if op == opRemove {
		return w.rec.MarkPathMissing(ctx, w.root, rel)
	}

	abs := filepath.Join(w.base, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		// Vanished between the event and the flush: treat as a remove.
		return w.rec.MarkPathMissing(ctx, w.root, rel)
	}
	if !info.Mode().IsRegular() {
		return Result{}, nil
	}
	if w.root.MaxFileSize > 0 && info.Size() > w.root.MaxFileSize {
		w.logger.Debug("watcher: skipped oversize", slog.String("path", rel))
		return Result{Skipped: 1}, nil
	}

	fp, err := Fingerprint(abs, w.root.ContentHashCap)
	if err != nil {
		return Result{}, err
	}
	return w.rec.ReconcilePath(ctx, w.root, Observation{RelPath: rel, Fingerprint: fp})
}

// addDirs adds dir (and, when recursive, all its subdirectories) to the
// fsnotify watch list.
func addDirs(fw *fsnotify.Watcher, dir string, recursive bool) error {
	if !recursive {
		return fw.Add(dir)
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}
