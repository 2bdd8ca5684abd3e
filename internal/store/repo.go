package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// RegisterRoot inserts a root and fills in its assigned ID.
func (db *DB) RegisterRoot(ctx context.Context, root *models.FolderRoot) error {
	inc, _ := json.Marshal(root.IncludePatterns)
	exc, _ := json.Marshal(root.ExcludePatterns)
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO folder_roots (path, name, recursive, include_patterns,
			exclude_patterns, follow_symlinks, max_file_size, content_hash_cap,
			watch_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, root.Path, root.Name, root.Recursive, string(inc), string(exc),
		root.FollowSymlinks, root.MaxFileSize, root.ContentHashCap, root.WatchEnabled)
	if err != nil {
		return fmt.Errorf("store: register root: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: register root id: %w", err)
	}
	root.ID = id
	return nil
}

const rootColumns = `id, path, name, recursive, include_patterns, exclude_patterns,
	follow_symlinks, max_file_size, content_hash_cap, watch_enabled, last_scan_at`

func scanRoot(row interface{ Scan(...any) error }) (models.FolderRoot, error) {
	var (
		r        models.FolderRoot
		inc, exc string
		lastScan sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Path, &r.Name, &r.Recursive, &inc, &exc,
		&r.FollowSymlinks, &r.MaxFileSize, &r.ContentHashCap, &r.WatchEnabled, &lastScan)
	if err != nil {
		return r, err
	}
	_ = json.Unmarshal([]byte(inc), &r.IncludePatterns)
	_ = json.Unmarshal([]byte(exc), &r.ExcludePatterns)
	if lastScan.Valid {
		r.LastScanAt = lastScan.Time
	}
	return r, nil
}

// Roots returns every registered root ordered by name.
func (db *DB) Roots(ctx context.Context) ([]models.FolderRoot, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+rootColumns+` FROM folder_roots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list roots: %w", err)
	}
	defer rows.Close()

	var out []models.FolderRoot
	for rows.Next() {
		r, err := scanRoot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RootByID returns one root, or apperr.ErrNotFound.
func (db *DB) RootByID(ctx context.Context, id int64) (models.FolderRoot, error) {
	r, err := scanRoot(db.conn.QueryRowContext(ctx,
		`SELECT `+rootColumns+` FROM folder_roots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("store: root %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("store: root %d: %w", id, err)
	}
	return r, nil
}

// DeleteRoot removes a root; folders, scripts, events, and change-log rows
// cascade.
func (db *DB) DeleteRoot(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM folder_roots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete root: %w", err)
	}
	return nil
}

const recordColumns = `id, root_id, folder_id, rel_path, name, extension, language,
	size, mtime, digest, line_count, missing, missing_scans, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (models.ScriptRecord, error) {
	var (
		r        models.ScriptRecord
		folderID sql.NullInt64
		mtime    sql.NullTime
	)
	err := row.Scan(&r.ID, &r.RootID, &folderID, &r.RelPath, &r.Name, &r.Extension,
		&r.Language, &r.Size, &mtime, &r.Digest, &r.LineCount, &r.Missing,
		&r.MissingScans, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.FolderID = folderID.Int64
	if mtime.Valid {
		r.ModTime = mtime.Time
	}
	return r, nil
}

// RecordByID returns one record, or apperr.ErrNotFound.
func (db *DB) RecordByID(ctx context.Context, id int64) (models.ScriptRecord, error) {
	r, err := scanRecord(db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scripts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("store: script %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("store: script %d: %w", id, err)
	}
	return r, nil
}

// RecordByPath returns the record with identity (rootID, relPath), or
// apperr.ErrNotFound.
func (db *DB) RecordByPath(ctx context.Context, rootID int64, relPath string) (models.ScriptRecord, error) {
	r, err := scanRecord(db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scripts WHERE root_id = ? AND rel_path = ?`, rootID, relPath))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("store: script %s: %w", relPath, apperr.ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("store: script %s: %w", relPath, err)
	}
	return r, nil
}

// RecordsByRoot returns records for one root (rootID 0 = all roots), ordered
// by path for deterministic output.
func (db *DB) RecordsByRoot(ctx context.Context, rootID int64) ([]models.ScriptRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scripts ORDER BY root_id, rel_path`
	args := []any{}
	if rootID != 0 {
		query = `SELECT ` + recordColumns + ` FROM scripts WHERE root_id = ? ORDER BY rel_path`
		args = append(args, rootID)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: records by root: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// RecordsByDigest returns non-missing records sharing digest, optionally
// scoped to a root.
func (db *DB) RecordsByDigest(ctx context.Context, rootID int64, digest string) ([]models.ScriptRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scripts WHERE digest = ? AND missing = 0 ORDER BY root_id, rel_path`
	args := []any{digest}
	if rootID != 0 {
		query = `SELECT ` + recordColumns + ` FROM scripts WHERE digest = ? AND missing = 0 AND root_id = ? ORDER BY rel_path`
		args = append(args, rootID)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: records by digest: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]models.ScriptRecord, error) {
	var out []models.ScriptRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Folders returns every folder row for a root.
func (db *DB) Folders(ctx context.Context, rootID int64) ([]models.Folder, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, root_id, rel_path, parent_id, note FROM folders WHERE root_id = ? ORDER BY rel_path`, rootID)
	if err != nil {
		return nil, fmt.Errorf("store: folders: %w", err)
	}
	defer rows.Close()

	var out []models.Folder
	for rows.Next() {
		var (
			f      models.Folder
			parent sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.RootID, &f.RelPath, &parent, &f.Note); err != nil {
			return nil, err
		}
		f.ParentID = parent.Int64
		out = append(out, f)
	}
	return out, rows.Err()
}

// ChangeLog returns up to limit change entries for a root, most recent first.
func (db *DB) ChangeLog(ctx context.Context, rootID int64, limit int) ([]models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, root_id, rel_path, at, kind, old_fp, new_fp
		FROM change_log WHERE root_id = ? ORDER BY id DESC LIMIT ?`, rootID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: change log: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeLogEntry
	for rows.Next() {
		var (
			e       models.ChangeLogEntry
			oldJSON sql.NullString
			newJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RootID, &e.RelPath, &e.At, &e.Kind, &oldJSON, &newJSON); err != nil {
			return nil, err
		}
		e.Old = decodeFingerprint(oldJSON)
		e.New = decodeFingerprint(newJSON)
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeFingerprint(s sql.NullString) *models.Fingerprint {
	if !s.Valid || s.String == "" {
		return nil
	}
	var fp models.Fingerprint
	if err := json.Unmarshal([]byte(s.String), &fp); err != nil {
		return nil
	}
	return &fp
}

func encodeFingerprint(fp *models.Fingerprint) any {
	if fp == nil {
		return nil
	}
	b, err := json.Marshal(fp)
	if err != nil {
		return nil
	}
	return string(b)
}
