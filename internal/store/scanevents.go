package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// CreateScanEvent inserts a new scan event row and fills in its ID.
func (db *DB) CreateScanEvent(ctx context.Context, ev *models.ScanEvent) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO scan_events (root_id, full_scan, started_at, status)
		VALUES (?, ?, ?, ?)
	`, ev.RootID, ev.Full, ev.StartedAt, ev.Status)
	if err != nil {
		return fmt.Errorf("store: create scan event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: scan event id: %w", err)
	}
	ev.ID = id
	return nil
}

// UpdateScanEvent overwrites the mutable columns of an event. The ledger is
// responsible for never calling this on a terminal event.
func (db *DB) UpdateScanEvent(ctx context.Context, ev models.ScanEvent) error {
	var ended any
	if !ev.EndedAt.IsZero() {
		ended = ev.EndedAt
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE scan_events SET ended_at = ?, status = ?, new_count = ?,
			updated_count = ?, missing_count = ?, deleted_count = ?,
			error_count = ?, error = ?
		WHERE id = ?
	`, ended, ev.Status, ev.New, ev.Updated, ev.Missing, ev.Deleted,
		ev.Errors, ev.Error, ev.ID)
	if err != nil {
		return fmt.Errorf("store: update scan event: %w", err)
	}
	return nil
}

// ScanEventByID returns one scan event, or apperr.ErrNotFound.
func (db *DB) ScanEventByID(ctx context.Context, id int64) (models.ScanEvent, error) {
	var (
		ev    models.ScanEvent
		ended sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, root_id, full_scan, started_at, ended_at, status, new_count,
			updated_count, missing_count, deleted_count, error_count, error
		FROM scan_events WHERE id = ?
	`, id).Scan(&ev.ID, &ev.RootID, &ev.Full, &ev.StartedAt, &ended, &ev.Status,
		&ev.New, &ev.Updated, &ev.Missing, &ev.Deleted, &ev.Errors, &ev.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("store: scan event %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return ev, fmt.Errorf("store: scan event %d: %w", id, err)
	}
	if ended.Valid {
		ev.EndedAt = ended.Time
	}
	return ev, nil
}
