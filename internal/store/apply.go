package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Apply commits a reconciliation batch in one transaction: folder rows,
// record upserts, missing marks, hard deletes, change-log appends, and the
// root's last-scan timestamp. Either the whole batch commits or none of it.
func (db *DB) Apply(ctx context.Context, batch Batch) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	folderIDs, err := upsertFolders(ctx, tx, batch.RootID, batch.FolderPaths)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	for _, rec := range batch.Upserts {
		folderID := folderIDs[parentDir(rec.RelPath)]
		var folderArg any
		if folderID != 0 {
			folderArg = folderID
		} else if id, err := folderIDByPath(ctx, tx, batch.RootID, parentDir(rec.RelPath)); err == nil {
			folderArg = id
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scripts (root_id, folder_id, rel_path, name, extension,
				language, size, mtime, digest, line_count, missing, missing_scans, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
			ON CONFLICT(root_id, rel_path) DO UPDATE SET
				folder_id     = excluded.folder_id,
				name          = excluded.name,
				extension     = excluded.extension,
				language      = excluded.language,
				size          = excluded.size,
				mtime         = excluded.mtime,
				digest        = excluded.digest,
				line_count    = excluded.line_count,
				missing       = 0,
				missing_scans = 0,
				updated_at    = excluded.updated_at
		`, batch.RootID, folderArg, rec.RelPath, rec.Name, rec.Extension,
			rec.Language, rec.Size, rec.ModTime, rec.Digest, rec.LineCount, now)
		if err != nil {
			return fmt.Errorf("store: upsert script %s: %w", rec.RelPath, err)
		}
	}

	for _, m := range batch.MarkMissing {
		_, err = tx.ExecContext(ctx, `
			UPDATE scripts SET missing = 1, missing_scans = ?, updated_at = ?
			WHERE root_id = ? AND rel_path = ?
		`, m.MissingScans, now, batch.RootID, m.RelPath)
		if err != nil {
			return fmt.Errorf("store: mark missing %s: %w", m.RelPath, err)
		}
	}

	for _, relPath := range batch.Deletes {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM scripts WHERE root_id = ? AND rel_path = ?`, batch.RootID, relPath)
		if err != nil {
			return fmt.Errorf("store: delete script %s: %w", relPath, err)
		}
	}

	for _, ch := range batch.Changes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO change_log (root_id, rel_path, at, kind, old_fp, new_fp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, batch.RootID, ch.RelPath, ch.At, ch.Kind,
			encodeFingerprint(ch.Old), encodeFingerprint(ch.New))
		if err != nil {
			return fmt.Errorf("store: append change log: %w", err)
		}
	}

	if batch.BumpScanAt {
		_, err = tx.ExecContext(ctx,
			`UPDATE folder_roots SET last_scan_at = ? WHERE id = ?`, now, batch.RootID)
		if err != nil {
			return fmt.Errorf("store: bump last scan: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}

// upsertFolders ensures a folder row exists for each path (ordered
// parent-before-child) and returns rel_path -> id for the touched rows.
// The root directory itself is the "" row with a NULL parent.
func upsertFolders(ctx context.Context, tx *sql.Tx, rootID int64, paths []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(paths))
	for _, p := range paths {
		var parentArg any
		if p != "" {
			parentID, ok := ids[parentDir(p)]
			if !ok {
				if id, err := folderIDByPath(ctx, tx, rootID, parentDir(p)); err == nil {
					parentID = id
				}
			}
			if parentID != 0 {
				parentArg = parentID
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO folders (root_id, rel_path, parent_id)
			VALUES (?, ?, ?)
			ON CONFLICT(root_id, rel_path) DO UPDATE SET parent_id = excluded.parent_id
		`, rootID, p, parentArg)
		if err != nil {
			return nil, fmt.Errorf("store: upsert folder %q: %w", p, err)
		}
		id, err := folderIDByPath(ctx, tx, rootID, p)
		if err != nil {
			return nil, fmt.Errorf("store: folder id %q: %w", p, err)
		}
		ids[p] = id
	}
	return ids, nil
}

func folderIDByPath(ctx context.Context, tx *sql.Tx, rootID int64, relPath string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE root_id = ? AND rel_path = ?`, rootID, relPath).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return id, err
}

// parentDir returns the slash-relative directory of a path, "" for entries
// directly under the root.
func parentDir(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			return relPath[:i]
		}
	}
	return ""
}
