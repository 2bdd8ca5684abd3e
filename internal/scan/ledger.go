package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/store"
)

// Ledger owns the lifecycle of scan events and the per-root mutual exclusion
// token. Exactly one pending or running event may exist per root at a time;
// acquiring that token is the only way to mutate a root's inventory.
type Ledger struct {
	inv store.Inventory

	mu     sync.Mutex
	tokens map[int64]chan struct{}
}

// NewLedger creates a ledger over the given inventory.
func NewLedger(inv store.Inventory) *Ledger {
	return &Ledger{inv: inv, tokens: make(map[int64]chan struct{})}
}

func (l *Ledger) token(rootID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[rootID]
	if !ok {
		t = make(chan struct{}, 1)
		l.tokens[rootID] = t
	}
	return t
}

// Begin acquires the root token without blocking and persists a pending
// event. A root with a pending or running event yields ErrConcurrentScan.
func (l *Ledger) Begin(ctx context.Context, rootID int64, full bool) (*models.ScanEvent, error) {
	select {
	case l.token(rootID) <- struct{}{}:
	default:
		return nil, fmt.Errorf("scan: root %d: %w", rootID, apperr.ErrConcurrentScan)
	}
	return l.createPending(ctx, rootID, full)
}

// BeginWait is Begin for callers that serialize rather than conflict (watch
// event workers): it blocks until the root token frees up or ctx is done.
func (l *Ledger) BeginWait(ctx context.Context, rootID int64, full bool) (*models.ScanEvent, error) {
	select {
	case l.token(rootID) <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.createPending(ctx, rootID, full)
}

func (l *Ledger) createPending(ctx context.Context, rootID int64, full bool) (*models.ScanEvent, error) {
	ev := &models.ScanEvent{
		RootID:    rootID,
		Full:      full,
		StartedAt: time.Now().UTC(),
		Status:    models.ScanPending,
	}
	if err := l.inv.CreateScanEvent(ctx, ev); err != nil {
		l.release(rootID)
		return nil, err
	}
	return ev, nil
}

// Start transitions a pending event to running.
func (l *Ledger) Start(ctx context.Context, ev *models.ScanEvent) error {
	ev.Status = models.ScanRunning
	return l.inv.UpdateScanEvent(ctx, *ev)
}

// Finish records the result and transitions the event to completed,
// releasing the root token.
func (l *Ledger) Finish(ctx context.Context, ev *models.ScanEvent, res Result) error {
	defer l.release(ev.RootID)
	applyCounts(ev, res)
	ev.Status = models.ScanCompleted
	ev.EndedAt = time.Now().UTC()
	return l.inv.UpdateScanEvent(ctx, *ev)
}

// Fail transitions the event to failed, retaining whatever partial counts
// accumulated before the failure, and releases the root token.
func (l *Ledger) Fail(ctx context.Context, ev *models.ScanEvent, res Result, cause error) error {
	defer l.release(ev.RootID)
	applyCounts(ev, res)
	ev.Status = models.ScanFailed
	ev.EndedAt = time.Now().UTC()
	if cause != nil {
		ev.Error = cause.Error()
	}
	return l.inv.UpdateScanEvent(ctx, *ev)
}

// Status returns the persisted event so callers can poll progress.
func (l *Ledger) Status(ctx context.Context, scanID int64) (models.ScanEvent, error) {
	return l.inv.ScanEventByID(ctx, scanID)
}

func (l *Ledger) release(rootID int64) {
	select {
	case <-l.token(rootID):
	default:
	}
}

func applyCounts(ev *models.ScanEvent, res Result) {
	ev.New = res.New
	ev.Updated = res.Updated + res.Resurrected
	ev.Missing = res.Missing
	ev.Deleted = res.Deleted
	ev.Errors = len(res.ErrorPaths)
	if len(res.ErrorPaths) > 0 && ev.Error == "" {
		ev.Error = "errors on: " + strings.Join(res.ErrorPaths, ", ")
	}
}
