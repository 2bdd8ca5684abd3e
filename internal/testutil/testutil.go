// Package testutil provides shared test helpers for setting up inventories
// and scan roots.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/store"
)

// TestDB creates a temporary SQLite inventory that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	f, err := os.CreateTemp("", "scriptdex-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := store.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRoot creates a temporary directory registered as a recursive root.
func TestRoot(t *testing.T, db *store.DB) (string, models.FolderRoot) {
	t.Helper()
	dir := t.TempDir()
	root := models.FolderRoot{
		Path:      dir,
		Name:      filepath.Base(dir),
		Recursive: true,
	}
	if err := db.RegisterRoot(context.Background(), &root); err != nil {
		t.Fatal(err)
	}
	return dir, root
}

// WriteFile writes a file under dir, creating parent directories as needed.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}
