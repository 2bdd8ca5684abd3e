package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jomardyan/scriptdex/internal/testutil"
)

func TestScanner_FullScanThenNoChanges(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	testutil.WriteFile(t, dir, "run.sh", "echo run\n")
	testutil.WriteFile(t, dir, "tools/setup.py", "print('setup')\n")
	testutil.WriteFile(t, dir, "notes.md", "prose, not a script\n")

	rec := NewReconciler(db, 0, quietLogger(), nil)
	s := NewScanner(rec, 4, quietLogger())
	ctx := context.Background()

	res, err := s.Run(ctx, root, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.New != 2 {
		t.Fatalf("first scan counts = %+v, want 2 new", res)
	}

	res, err = s.Run(ctx, root, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Unchanged != 2 || res.New != 0 || res.Updated != 0 || res.Missing != 0 {
		t.Fatalf("rescan counts = %+v, want all unchanged", res)
	}

	got, err := db.RecordByPath(ctx, root.ID, "tools/setup.py")
	if err != nil {
		t.Fatal(err)
	}
	if got.Language != "Python" || got.LineCount != 1 {
		t.Errorf("record = %+v", got)
	}
}

func TestScanner_DetectsEditsAndDeletes(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	testutil.WriteFile(t, dir, "a.sh", "echo one\n")
	testutil.WriteFile(t, dir, "b.sh", "echo two\n")

	rec := NewReconciler(db, 0, quietLogger(), nil)
	s := NewScanner(rec, 2, quietLogger())
	ctx := context.Background()

	if _, err := s.Run(ctx, root, true); err != nil {
		t.Fatal(err)
	}

	testutil.WriteFile(t, dir, "a.sh", "echo one\necho more\n")
	if err := os.Remove(filepath.Join(dir, "b.sh")); err != nil {
		t.Fatal(err)
	}

	res, err := s.Run(ctx, root, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Missing != 1 {
		t.Fatalf("counts = %+v, want one updated and one missing", res)
	}
}

func TestScanner_OversizeCountedSkipped(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	root.MaxFileSize = 8
	testutil.WriteFile(t, dir, "big.sh", "0123456789abcdef")
	testutil.WriteFile(t, dir, "ok.sh", "echo\n")

	rec := NewReconciler(db, 0, quietLogger(), nil)
	s := NewScanner(rec, 2, quietLogger())

	res, err := s.Run(context.Background(), root, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 || res.Skipped != 1 {
		t.Fatalf("counts = %+v, want 1 new and 1 skipped", res)
	}
}

func TestScanner_CancelLeavesStoreUntouched(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	testutil.WriteFile(t, dir, "a.sh", "echo\n")

	rec := NewReconciler(db, 0, quietLogger(), nil)
	s := NewScanner(rec, 2, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx, root, true); err == nil {
		t.Fatal("expected error from cancelled scan")
	}

	recs, err := db.RecordsByRoot(context.Background(), root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("cancelled scan committed %d records", len(recs))
	}
}
