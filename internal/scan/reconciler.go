package scan

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/store"
)

// Observation is one freshly fingerprinted file.
type Observation struct {
	RelPath     string
	Fingerprint models.Fingerprint
}

// Result aggregates the classifications of one reconciliation.
type Result struct {
	New         int
	Updated     int
	Unchanged   int
	Missing     int
	Resurrected int
	Deleted     int
	Skipped     int
	ErrorPaths  []string
}

// ChangeFunc receives every committed change-log entry. Called after the
// batch transaction commits.
type ChangeFunc func(models.ChangeLogEntry)

// Reconciler diffs fresh observations against the inventory and applies the
// difference as a single transaction per batch.
type Reconciler struct {
	inv store.Inventory
	// retention is the number of consecutive full scans a record may stay
	// missing before it is hard-deleted. Zero disables hard deletion.
	retention int
	logger    *slog.Logger
	onChange  ChangeFunc
}

// NewReconciler creates a reconciler. onChange may be nil.
func NewReconciler(inv store.Inventory, retention int, logger *slog.Logger, onChange ChangeFunc) *Reconciler {
	return &Reconciler{inv: inv, retention: retention, logger: logger, onChange: onChange}
}

// Reconcile applies a full walk's observations. Every stored record for the
// root that is absent from fresh is flagged missing; records missing for
// retention consecutive full scans are hard-deleted. The whole diff commits
// as one batch or not at all.
func (r *Reconciler) Reconcile(ctx context.Context, root models.FolderRoot, fresh []Observation, full bool) (Result, error) {
	existing, err := r.existingByPath(ctx, root.ID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	batch := store.Batch{RootID: root.ID, BumpScanAt: full}
	seen := make(map[string]struct{}, len(fresh))

	for _, obs := range fresh {
		seen[obs.RelPath] = struct{}{}
		r.classify(&batch, &res, existing, root.ID, obs)
	}

	if full {
		for relPath, rec := range existing {
			if _, ok := seen[relPath]; ok {
				continue
			}
			r.classifyAbsent(&batch, &res, root.ID, rec)
		}
	}

	batch.FolderPaths = folderPaths(batch.Upserts)

	if err := r.inv.Apply(ctx, batch); err != nil {
		return res, err
	}
	r.notify(batch.Changes)

	r.logger.Debug("scan: reconciled",
		slog.Int64("root_id", root.ID),
		slog.Bool("full", full),
		slog.Int("new", res.New),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("missing", res.Missing),
		slog.Int("deleted", res.Deleted))
	return res, nil
}

// ReconcilePath applies a single observed path (watch-driven incremental
// update) as its own one-path batch.
func (r *Reconciler) ReconcilePath(ctx context.Context, root models.FolderRoot, obs Observation) (Result, error) {
	existing := map[string]models.ScriptRecord{}
	rec, err := r.inv.RecordByPath(ctx, root.ID, obs.RelPath)
	switch {
	case err == nil:
		existing[obs.RelPath] = rec
	case !errors.Is(err, apperr.ErrNotFound):
		// A store failure must not misclassify a known file as new.
		return Result{}, err
	}

	var res Result
	batch := store.Batch{RootID: root.ID}
	r.classify(&batch, &res, existing, root.ID, obs)
	batch.FolderPaths = folderPaths(batch.Upserts)

	if err := r.inv.Apply(ctx, batch); err != nil {
		return res, err
	}
	r.notify(batch.Changes)
	return res, nil
}

// MarkPathMissing flags one path missing (watch-driven delete). Incremental
// events never hard-delete; the missing-scan counter only advances on full
// scans.
func (r *Reconciler) MarkPathMissing(ctx context.Context, root models.FolderRoot, relPath string) (Result, error) {
	rec, err := r.inv.RecordByPath(ctx, root.ID, relPath)
	if errors.Is(err, apperr.ErrNotFound) {
		// Unknown paths are a no-op.
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if rec.Missing {
		return Result{}, nil
	}

	old := rec.FingerprintOf()
	batch := store.Batch{
		RootID:      root.ID,
		MarkMissing: []store.MissingMark{{RelPath: relPath, MissingScans: rec.MissingScans}},
		Changes: []models.ChangeLogEntry{{
			RootID:  root.ID,
			RelPath: relPath,
			At:      time.Now().UTC(),
			Kind:    models.ChangeMissing,
			Old:     &old,
		}},
	}
	if err := r.inv.Apply(ctx, batch); err != nil {
		return Result{}, err
	}
	r.notify(batch.Changes)
	return Result{Missing: 1}, nil
}

// classify buckets one observation against the stored record (if any) and
// appends the resulting mutations to the batch.
func (r *Reconciler) classify(batch *store.Batch, res *Result, existing map[string]models.ScriptRecord, rootID int64, obs Observation) {
	now := time.Now().UTC()
	rec, known := existing[obs.RelPath]

	switch {
	case !known:
		res.New++
		batch.Upserts = append(batch.Upserts, recordFor(rootID, obs))
		fp := obs.Fingerprint
		batch.Changes = append(batch.Changes, models.ChangeLogEntry{
			RootID: rootID, RelPath: obs.RelPath, At: now,
			Kind: models.ChangeCreated, New: &fp,
		})

	case rec.Missing:
		res.Resurrected++
		batch.Upserts = append(batch.Upserts, recordFor(rootID, obs))
		old, fp := rec.FingerprintOf(), obs.Fingerprint
		batch.Changes = append(batch.Changes, models.ChangeLogEntry{
			RootID: rootID, RelPath: obs.RelPath, At: now,
			Kind: models.ChangeResurrected, Old: &old, New: &fp,
		})

	case !rec.FingerprintOf().Equal(obs.Fingerprint):
		res.Updated++
		batch.Upserts = append(batch.Upserts, recordFor(rootID, obs))
		old, fp := rec.FingerprintOf(), obs.Fingerprint
		batch.Changes = append(batch.Changes, models.ChangeLogEntry{
			RootID: rootID, RelPath: obs.RelPath, At: now,
			Kind: models.ChangeUpdated, Old: &old, New: &fp,
		})

	default:
		res.Unchanged++
	}
}

// classifyAbsent handles a stored record that the walk did not observe.
func (r *Reconciler) classifyAbsent(batch *store.Batch, res *Result, rootID int64, rec models.ScriptRecord) {
	now := time.Now().UTC()

	if !rec.Missing {
		res.Missing++
		old := rec.FingerprintOf()
		batch.MarkMissing = append(batch.MarkMissing, store.MissingMark{RelPath: rec.RelPath, MissingScans: 1})
		batch.Changes = append(batch.Changes, models.ChangeLogEntry{
			RootID: rootID, RelPath: rec.RelPath, At: now,
			Kind: models.ChangeMissing, Old: &old,
		})
		return
	}

	scans := rec.MissingScans + 1
	if r.retention > 0 && scans >= r.retention {
		res.Deleted++
		old := rec.FingerprintOf()
		batch.Deletes = append(batch.Deletes, rec.RelPath)
		batch.Changes = append(batch.Changes, models.ChangeLogEntry{
			RootID: rootID, RelPath: rec.RelPath, At: now,
			Kind: models.ChangeDeleted, Old: &old,
		})
		return
	}
	// Still inside the retention window: advance the counter only.
	batch.MarkMissing = append(batch.MarkMissing, store.MissingMark{RelPath: rec.RelPath, MissingScans: scans})
}

func (r *Reconciler) existingByPath(ctx context.Context, rootID int64) (map[string]models.ScriptRecord, error) {
	records, err := r.inv.RecordsByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.ScriptRecord, len(records))
	for _, rec := range records {
		out[rec.RelPath] = rec
	}
	return out, nil
}

func (r *Reconciler) notify(changes []models.ChangeLogEntry) {
	if r.onChange == nil {
		return
	}
	for _, ch := range changes {
		r.onChange(ch)
	}
}

func recordFor(rootID int64, obs Observation) models.ScriptRecord {
	name := path.Base(obs.RelPath)
	ext := strings.ToLower(path.Ext(name))
	return models.ScriptRecord{
		RootID:    rootID,
		RelPath:   obs.RelPath,
		Name:      name,
		Extension: ext,
		Language:  obs.Fingerprint.Language,
		Size:      obs.Fingerprint.Size,
		ModTime:   obs.Fingerprint.ModTime,
		Digest:    obs.Fingerprint.Digest,
		LineCount: obs.Fingerprint.LineCount,
	}
}

// folderPaths returns the deduplicated ancestor directories of every upserted
// record, ordered parent-before-child and rooted at "".
func folderPaths(upserts []models.ScriptRecord) []string {
	if len(upserts) == 0 {
		return nil
	}
	set := map[string]struct{}{"": {}}
	for _, rec := range upserts {
		dir := path.Dir(rec.RelPath)
		for dir != "." && dir != "" {
			set[dir] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := depth(out[i]), depth(out[j])
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}
