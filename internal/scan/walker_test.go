package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

func mkTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func collectWalk(t *testing.T, root models.FolderRoot) map[string]Candidate {
	t.Helper()
	ch, err := Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	out := make(map[string]Candidate)
	for c := range ch {
		out[c.RelPath] = c
	}
	return out
}

func TestWalk_OnlyScriptExtensions(t *testing.T) {
	dir := mkTree(t, map[string]string{
		"a.sh":       "echo a",
		"b.py":       "print('b')",
		"notes.txt":  "not a script",
		"img.png":    "binary",
		"sub/c.sql":  "SELECT 1;",
	})
	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: true})

	for _, want := range []string{"a.sh", "b.py", "sub/c.sql"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing candidate %q", want)
		}
	}
	for _, bad := range []string{"notes.txt", "img.png"} {
		if _, ok := got[bad]; ok {
			t.Errorf("unexpected candidate %q", bad)
		}
	}
}

func TestWalk_NonRecursive(t *testing.T) {
	dir := mkTree(t, map[string]string{
		"top.sh":      "echo top",
		"deep/in.sh":  "echo in",
	})
	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: false})

	if _, ok := got["top.sh"]; !ok {
		t.Error("missing top-level candidate")
	}
	if _, ok := got["deep/in.sh"]; ok {
		t.Error("non-recursive walk descended into subdirectory")
	}
}

func TestWalk_IncludeExcludePatterns(t *testing.T) {
	dir := mkTree(t, map[string]string{
		"keep.py":          "x",
		"drop.sh":          "x",
		"vendor/skip.py":   "x",
		"src/deep/ok.py":   "x",
	})
	root := models.FolderRoot{
		Path:            dir,
		Recursive:       true,
		IncludePatterns: []string{"**/*.py", "*.py"},
		ExcludePatterns: []string{"vendor/**", "vendor"},
	}
	got := collectWalk(t, root)

	if _, ok := got["keep.py"]; !ok {
		t.Error("include pattern rejected keep.py")
	}
	if _, ok := got["src/deep/ok.py"]; !ok {
		t.Error("doublestar include missed nested file")
	}
	if _, ok := got["drop.sh"]; ok {
		t.Error("include filter let drop.sh through")
	}
	if _, ok := got["vendor/skip.py"]; ok {
		t.Error("exclude pattern did not prune vendor")
	}
}

func TestWalk_OversizeReportedNotDropped(t *testing.T) {
	dir := mkTree(t, map[string]string{
		"big.sh":   "0123456789abcdef",
		"small.sh": "ok",
	})
	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: true, MaxFileSize: 8})

	big, ok := got["big.sh"]
	if !ok {
		t.Fatal("oversize file silently dropped")
	}
	if big.Skipped != SkipOversize {
		t.Errorf("skipped = %q, want %q", big.Skipped, SkipOversize)
	}
	if got["small.sh"].Skipped != "" {
		t.Error("small file wrongly skipped")
	}
}

func TestWalk_SymlinkSkippedByDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := mkTree(t, map[string]string{"evil.sh": "echo evil"})
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: true})
	if len(got) != 0 {
		t.Errorf("symlink followed without follow_symlinks: %v", got)
	}
}

func TestWalk_SymlinkEscapeRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := writeTemp(t, "outside.sh", []byte("echo out"))
	if err := os.Symlink(outside, filepath.Join(dir, "esc.sh")); err != nil {
		t.Fatal(err)
	}

	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: true, FollowSymlinks: true})
	c, ok := got["esc.sh"]
	if !ok {
		t.Fatal("escaping symlink not reported")
	}
	if !errors.Is(c.Err, apperr.ErrPathTraversal) {
		t.Errorf("err = %v, want ErrPathTraversal", c.Err)
	}
}

func TestWalk_SymlinkCycleVisitedOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := mkTree(t, map[string]string{"a.sh": "echo a", "sub/b.sh": "echo b"})
	// A link back to the root would recurse forever without cycle pruning.
	if err := os.Symlink(dir, filepath.Join(dir, "loop")); err != nil {
		t.Fatal(err)
	}

	got := collectWalk(t, models.FolderRoot{Path: dir, Recursive: true, FollowSymlinks: true})

	for _, want := range []string{"a.sh", "sub/b.sh"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing candidate %q", want)
		}
	}
	if len(got) != 2 {
		t.Errorf("candidates = %d, want 2 (no duplicates through the cycle)", len(got))
	}
	if _, ok := got["loop/a.sh"]; ok {
		t.Error("descended into the cyclic link")
	}
}

func TestWalk_CancelAbortsEarly(t *testing.T) {
	dir := mkTree(t, map[string]string{"a.sh": "x", "b.sh": "x", "c.sh": "x"})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := Walk(ctx, models.FolderRoot{Path: dir, Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	// The channel must close; draining it must not hang.
	n := 0
	for range ch {
		n++
	}
	if n > 3 {
		t.Errorf("got %d candidates after cancel", n)
	}
}
