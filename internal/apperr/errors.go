// Package apperr defines the sentinel errors shared across the engine.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a root, script, or scan event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPathTraversal is returned for a path that resolves outside its root
	// after symlink and ".." normalization. Fatal to that path only.
	ErrPathTraversal = errors.New("path escapes root")

	// ErrPermissionDenied marks an unreadable file or subtree. Non-fatal to a
	// scan; recorded in the scan event's error count.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrentScan is returned when a scan is requested for a root that
	// already has one pending or running.
	ErrConcurrentScan = errors.New("scan already in progress for root")

	// ErrCorruptHierarchy is returned when the folder parent chain contains a
	// cycle. Fatal to tree building only.
	ErrCorruptHierarchy = errors.New("corrupt folder hierarchy")

	// ErrTransientIO marks a file that vanished mid-read. The next
	// reconciliation flags it missing; it is not counted as a scan error.
	ErrTransientIO = errors.New("transient io failure")
)
