package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jomardyan/scriptdex/internal/testutil"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcher_CreateAppearsInInventory(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	testutil.WriteFile(t, dir, "fresh.sh", "echo fresh\n")

	eventually(t, 3*time.Second, func() bool {
		r, err := db.RecordByPath(context.Background(), root.ID, "fresh.sh")
		return err == nil && !r.Missing && r.Language == "Bash"
	}, "created file never appeared in the inventory")
}

func TestWatcher_DeleteFlagsMissing(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	abs := testutil.WriteFile(t, dir, "gone.sh", "echo gone\n")

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Seed through the watcher itself so the record exists before the delete.
	testutil.WriteFile(t, dir, "gone.sh", "echo gone again\n")
	eventually(t, 3*time.Second, func() bool {
		_, err := db.RecordByPath(context.Background(), root.ID, "gone.sh")
		return err == nil
	}, "seed record never appeared")

	if err := os.Remove(abs); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, func() bool {
		r, err := db.RecordByPath(context.Background(), root.ID, "gone.sh")
		return err == nil && r.Missing
	}, "deleted file never flagged missing")
}

func TestWatcher_WriteBurstCoalesces(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 100*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		testutil.WriteFile(t, dir, "busy.sh", "echo "+string(rune('a'+i))+"\n")
	}

	eventually(t, 3*time.Second, func() bool {
		r, err := db.RecordByPath(context.Background(), root.ID, "busy.sh")
		return err == nil && !r.Missing
	}, "burst-written file never appeared")

	// The final content must win.
	r, err := db.RecordByPath(context.Background(), root.ID, "busy.sh")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("echo e\n")
	if r.Size != int64(len(want)) {
		t.Errorf("size = %d, want %d", r.Size, len(want))
	}
}

func TestWatcher_NewSubdirectoryPickedUp(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "nested/inner.sh", "echo inner\n")

	eventually(t, 3*time.Second, func() bool {
		_, err := db.RecordByPath(context.Background(), root.ID, "nested/inner.sh")
		return err == nil
	}, "file in new subdirectory never appeared")
}

func TestWatcher_IgnoresNonScripts(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	testutil.WriteFile(t, dir, "notes.txt", "prose\n")
	testutil.WriteFile(t, dir, "real.sh", "echo\n")

	eventually(t, 3*time.Second, func() bool {
		_, err := db.RecordByPath(context.Background(), root.ID, "real.sh")
		return err == nil
	}, "script never appeared")

	if _, err := db.RecordByPath(context.Background(), root.ID, "notes.txt"); err == nil {
		t.Error("non-script file was cataloged")
	}
}

func TestWatcher_StopIsDeterministic(t *testing.T) {
	db := testutil.TestDB(t)
	_, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	w.Stop()
	w.Stop() // safe to repeat

	state, serr := w.State()
	if state != WatchStopped || serr != nil {
		t.Errorf("state = %s err = %v, want clean stop", state, serr)
	}
}

func TestWatcher_OverflowStopsWithError(t *testing.T) {
	db := testutil.TestDB(t)
	_, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// The OS dropping events means changes were missed; the subscription can
	// no longer be trusted and must not report itself active.
	w.fw.Errors <- fsnotify.ErrEventOverflow

	eventually(t, 3*time.Second, func() bool {
		state, _ := w.State()
		return state == WatchStoppedWithError
	}, "overflow did not stop the watcher")

	_, serr := w.State()
	if !errors.Is(serr, fsnotify.ErrEventOverflow) {
		t.Errorf("state err = %v, want the overflow cause", serr)
	}
}

func TestWatcher_TransientErrorKeepsRunning(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)

	w, err := StartWatcher(root, rec, ledger, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.fw.Errors <- errors.New("transient notify error")

	// Still subscribed: a subsequent create is picked up.
	testutil.WriteFile(t, dir, "after.sh", "echo after\n")
	eventually(t, 3*time.Second, func() bool {
		_, err := db.RecordByPath(context.Background(), root.ID, "after.sh")
		return err == nil
	}, "watcher stopped on a non-fatal error")

	if state, _ := w.State(); state != WatchActive {
		t.Errorf("state = %s, want active", state)
	}
}

func TestWatchManager_RootRemovalThenRestart(t *testing.T) {
	db := testutil.TestDB(t)
	dir, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)
	m := NewWatchManager(rec, ledger, 50*time.Millisecond, quietLogger())
	t.Cleanup(m.StopAll)

	if state, err := m.Start(root); err != nil || state != WatchActive {
		t.Fatalf("start = %s, %v", state, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, func() bool {
		state, _ := m.State(root.ID)
		return state == WatchStoppedWithError
	}, "root removal did not surface stopped-with-error")

	// Resuming is an explicit caller decision: a fresh Start after the
	// directory reappears replaces the dead subscription.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	state, err := m.Start(root)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if state != WatchActive {
		t.Fatalf("restart state = %s, want active", state)
	}

	testutil.WriteFile(t, dir, "back.sh", "echo back\n")
	eventually(t, 3*time.Second, func() bool {
		_, err := db.RecordByPath(context.Background(), root.ID, "back.sh")
		return err == nil
	}, "fresh subscription not delivering events")
}

func TestWatchManager_IdempotentStart(t *testing.T) {
	db := testutil.TestDB(t)
	_, root := testutil.TestRoot(t, db)
	rec := NewReconciler(db, 0, quietLogger(), nil)
	ledger := NewLedger(db)
	m := NewWatchManager(rec, ledger, 50*time.Millisecond, quietLogger())
	t.Cleanup(m.StopAll)

	state, err := m.Start(root)
	if err != nil {
		t.Fatal(err)
	}
	if state != WatchActive {
		t.Fatalf("state = %s, want active", state)
	}

	// Second start reports the live watcher instead of doubling up.
	state, err = m.Start(root)
	if err != nil {
		t.Fatal(err)
	}
	if state != WatchActive {
		t.Errorf("repeat start state = %s", state)
	}

	m.Stop(root.ID)
	state, _ = m.State(root.ID)
	if state != WatchStopped {
		t.Errorf("state after stop = %s", state)
	}

	// Stop on an unwatched root is a no-op.
	m.Stop(root.ID)
}
