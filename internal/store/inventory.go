package store

import (
	"context"

	"github.com/jomardyan/scriptdex/internal/models"
)

// MissingMark flags one record as absent from the latest observation.
// MissingScans carries the new consecutive-absence counter value.
type MissingMark struct {
	RelPath      string
	MissingScans int
}

// Batch is the unit of mutation for one reconciliation. Apply commits the
// whole batch in a single transaction or none of it.
//
// FolderPaths must be ordered parent-before-child; Apply resolves parent
// references and owning folders inside the transaction.
type Batch struct {
	RootID      int64
	FolderPaths []string
	Upserts     []models.ScriptRecord
	MarkMissing []MissingMark
	Deletes     []string
	Changes     []models.ChangeLogEntry
	BumpScanAt  bool
}

// Inventory is the persistence contract the engine reconciles against.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type Inventory interface {
	// Roots.
	RegisterRoot(ctx context.Context, root *models.FolderRoot) error
	Roots(ctx context.Context) ([]models.FolderRoot, error)
	RootByID(ctx context.Context, id int64) (models.FolderRoot, error)
	DeleteRoot(ctx context.Context, id int64) error

	// Records. rootID 0 widens RecordsByRoot to every root.
	RecordByID(ctx context.Context, id int64) (models.ScriptRecord, error)
	RecordByPath(ctx context.Context, rootID int64, relPath string) (models.ScriptRecord, error)
	RecordsByRoot(ctx context.Context, rootID int64) ([]models.ScriptRecord, error)
	RecordsByDigest(ctx context.Context, rootID int64, digest string) ([]models.ScriptRecord, error)

	// Folders.
	Folders(ctx context.Context, rootID int64) ([]models.Folder, error)

	// Transactional reconciliation commit.
	Apply(ctx context.Context, batch Batch) error

	// Scan events.
	CreateScanEvent(ctx context.Context, ev *models.ScanEvent) error
	UpdateScanEvent(ctx context.Context, ev models.ScanEvent) error
	ScanEventByID(ctx context.Context, id int64) (models.ScanEvent, error)

	// Change log (most recent first).
	ChangeLog(ctx context.Context, rootID int64, limit int) ([]models.ChangeLogEntry, error)

	Close() error
}

// Verify *DB satisfies Inventory at compile time.
var _ Inventory = (*DB)(nil)
