package scan

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jomardyan/scriptdex/internal/models"
)

// WatchManager owns at most one watcher per root. Start and Stop are
// idempotent: starting an already-watched root returns the current state
// without creating a second OS subscription.
type WatchManager struct {
	rec      *Reconciler
	ledger   *Ledger
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	watchers map[int64]*Watcher
}

// NewWatchManager creates an empty manager.
func NewWatchManager(rec *Reconciler, ledger *Ledger, debounce time.Duration, logger *slog.Logger) *WatchManager {
	return &WatchManager{
		rec:      rec,
		ledger:   ledger,
		debounce: debounce,
		logger:   logger,
		watchers: make(map[int64]*Watcher),
	}
}

// Start ensures a watcher is running for root and returns its state. A root
// whose previous watcher stopped (cleanly or with an error) gets a fresh
// subscription.
func (m *WatchManager) Start(root models.FolderRoot) (WatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.watchers[root.ID]; ok {
		if state, _ := w.State(); state == WatchActive {
			return state, nil
		}
		delete(m.watchers, root.ID)
	}

	w, err := StartWatcher(root, m.rec, m.ledger, m.debounce, m.logger)
	if err != nil {
		return "", err
	}
	m.watchers[root.ID] = w
	state, _ := w.State()
	return state, nil
}

// Stop stops the watcher for rootID if one is running. Stopping an unwatched
// root is a no-op.
func (m *WatchManager) Stop(rootID int64) {
	m.mu.Lock()
	w, ok := m.watchers[rootID]
	if ok {
		delete(m.watchers, rootID)
	}
	m.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// State returns the watcher state for rootID; WatchStopped when no watcher
// exists.
func (m *WatchManager) State(rootID int64) (WatchState, error) {
	m.mu.Lock()
	w, ok := m.watchers[rootID]
	m.mu.Unlock()
	if !ok {
		return WatchStopped, nil
	}
	return w.State()
}

// StopAll stops every watcher; used during shutdown.
func (m *WatchManager) StopAll() {
	m.mu.Lock()
	all := make([]*Watcher, 0, len(m.watchers))
	for id, w := range m.watchers {
		all = append(all, w)
		delete(m.watchers, id)
	}
	m.mu.Unlock()
	for _, w := range all {
		w.Stop()
	}
}
