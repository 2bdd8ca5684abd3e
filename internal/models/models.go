// Package models defines the data types shared between the scan engine and
// the inventory store.
package models

import "time"

// FolderRoot is a registered scan boundary: a directory whose contents the
// engine catalogs. All relative paths in the inventory are relative to Path.
type FolderRoot struct {
	ID              int64
	Path            string // absolute path to an existing directory
	Name            string
	Recursive       bool
	IncludePatterns []string // doublestar globs; empty = include everything
	ExcludePatterns []string // doublestar globs; a match always excludes
	FollowSymlinks  bool
	MaxFileSize     int64 // bytes; files above this are reported as skipped
	ContentHashCap  int64 // hash at most this many bytes; 0 = whole file
	WatchEnabled    bool
	LastScanAt      time.Time
}

// Folder is a directory discovered under a root. ParentID is 0 for the root
// directory itself.
type Folder struct {
	ID       int64
	RootID   int64
	RelPath  string
	ParentID int64
	Note     string
}

// Fingerprint is the observed state of a file: the tuple that decides whether
// a record needs updating.
type Fingerprint struct {
	Size      int64
	ModTime   time.Time
	Digest    string // hex-encoded sha256 over (possibly capped) content
	LineCount int64  // -1 when content could not be decoded as text
	Language  string // empty when the extension is unknown
}

// Equal reports whether two fingerprints describe the same content. ModTime
// is deliberately excluded: an mtime-only drift with an identical digest is
// not a change worth rewriting.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.Digest == other.Digest
}

// ScriptRecord is one cataloged file. Identity is (RootID, RelPath); only the
// reconciler mutates records.
type ScriptRecord struct {
	ID           int64
	RootID       int64
	FolderID     int64
	RelPath      string
	Name         string
	Extension    string
	Language     string
	Size         int64
	ModTime      time.Time
	Digest       string
	LineCount    int64
	Missing      bool
	MissingScans int // consecutive full scans the file has been absent
	UpdatedAt    time.Time
}

// FingerprintOf returns the fingerprint currently stored on the record.
func (r ScriptRecord) FingerprintOf() Fingerprint {
	return Fingerprint{
		Size:      r.Size,
		ModTime:   r.ModTime,
		Digest:    r.Digest,
		LineCount: r.LineCount,
		Language:  r.Language,
	}
}

// Scan event statuses.
const (
	ScanPending   = "pending"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

// ScanEvent records one reconciliation run. Immutable once its status is
// terminal (completed or failed).
type ScanEvent struct {
	ID        int64
	RootID    int64
	Full      bool
	StartedAt time.Time
	EndedAt   time.Time
	Status    string
	New       int
	Updated   int
	Missing   int
	Deleted   int
	Errors    int
	Error     string
}

// Change kinds emitted by the reconciler.
const (
	ChangeCreated     = "created"
	ChangeUpdated     = "updated"
	ChangeMissing     = "missing"
	ChangeDeleted     = "deleted"
	ChangeResurrected = "resurrected"
)

// ChangeLogEntry is one append-only record of a non-"unchanged"
// classification. Old is nil for created, New is nil for missing/deleted.
type ChangeLogEntry struct {
	ID      int64
	RootID  int64
	RelPath string
	At      time.Time
	Kind    string
	Old     *Fingerprint
	New     *Fingerprint
}
