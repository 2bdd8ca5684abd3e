package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// SkipOversize is the Skipped reason for files above the root's size ceiling.
const SkipOversize = "oversize"

// Candidate is one entry produced by a walk. Exactly one of the following
// holds: Err is set (the path could not be processed), Skipped is set (the
// path was seen but excluded by policy, e.g. oversize), or the candidate is a
// regular file to fingerprint.
type Candidate struct {
	RelPath string
	AbsPath string
	Info    fs.FileInfo
	Skipped string
	Err     error
}

// Walk enumerates candidate script files under root and sends them on the
// returned channel. The channel is closed when the walk finishes or ctx is
// cancelled. Directory read errors are reported as per-subtree error
// candidates and do not abort the walk.
//
// Policy order per entry: symlink policy, recursion flag, include globs,
// exclude globs, size ceiling.
func Walk(ctx context.Context, root models.FolderRoot) (<-chan Candidate, error) {
	base, err := filepath.Abs(root.Path)
	if err != nil {
		return nil, fmt.Errorf("scan: resolve root: %w", err)
	}
	// The boundary check compares fully resolved paths, so the base itself
	// must be resolved too (e.g. /tmp -> /private/tmp).
	if resolved, evalErr := filepath.EvalSymlinks(base); evalErr == nil {
		base = resolved
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("scan: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan: root is not a directory: %s", base)
	}

	out := make(chan Candidate)
	w := &walker{root: root, base: base, out: out, seen: map[string]struct{}{base: {}}}
	go func() {
		defer close(out)
		w.walkDir(ctx, base)
	}()
	return out, nil
}

type walker struct {
	root models.FolderRoot
	base string
	out  chan Candidate
	seen map[string]struct{} // resolved directories already descended
}

func (w *walker) emit(ctx context.Context, c Candidate) bool {
	select {
	case w.out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *walker) walkDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		rel, _ := filepath.Rel(w.base, dir)
		w.emit(ctx, Candidate{RelPath: filepath.ToSlash(rel), Err: classifyIOErr("scan: read dir", dir, err)})
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		abs := filepath.Join(dir, entry.Name())
		rel, relErr := filepath.Rel(w.base, abs)
		if relErr != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		isSymlink := entry.Type()&fs.ModeSymlink != 0
		if isSymlink && !w.root.FollowSymlinks {
			continue
		}

		// Resolve symlinks so the boundary check sees the real target.
		target := abs
		var targetInfo fs.FileInfo
		if isSymlink {
			resolved, evalErr := filepath.EvalSymlinks(abs)
			if evalErr != nil {
				w.emit(ctx, Candidate{RelPath: rel, Err: classifyIOErr("scan: resolve symlink", abs, evalErr)})
				continue
			}
			if escapes(w.base, resolved) {
				w.emit(ctx, Candidate{RelPath: rel, Err: fmt.Errorf("scan: %s: %w", rel, apperr.ErrPathTraversal)})
				continue
			}
			target = resolved
		}
		ti, statErr := os.Stat(target)
		if statErr != nil {
			w.emit(ctx, Candidate{RelPath: rel, Err: classifyIOErr("scan: stat", abs, statErr)})
			continue
		}
		targetInfo = ti

		if targetInfo.IsDir() {
			// Excluding a directory prunes its whole subtree. A resolved
			// target already descended means a symlink cycle; skip it.
			if w.root.Recursive && !w.excluded(rel, entry.Name()) {
				if _, visited := w.seen[target]; !visited {
					w.seen[target] = struct{}{}
					w.walkDir(ctx, abs)
				}
			}
			continue
		}
		if !targetInfo.Mode().IsRegular() {
			continue
		}

		if !IsScriptFile(entry.Name()) {
			continue
		}
		if !w.included(rel, entry.Name()) {
			continue
		}
		if w.excluded(rel, entry.Name()) {
			continue
		}
		if w.root.MaxFileSize > 0 && targetInfo.Size() > w.root.MaxFileSize {
			w.emit(ctx, Candidate{RelPath: rel, AbsPath: abs, Info: targetInfo, Skipped: SkipOversize})
			continue
		}

		if !w.emit(ctx, Candidate{RelPath: rel, AbsPath: abs, Info: targetInfo}) {
			return
		}
	}
}

// included reports whether rel qualifies under the include globs. No include
// patterns means everything qualifies.
func (w *walker) included(rel, name string) bool {
	if len(w.root.IncludePatterns) == 0 {
		return true
	}
	return matchAny(w.root.IncludePatterns, rel, name)
}

func (w *walker) excluded(rel, name string) bool {
	return matchAny(w.root.ExcludePatterns, rel, name)
}

// matchAny matches doublestar patterns against the slash-relative path and,
// for bare patterns like "*.py", against the base name as well.
func matchAny(patterns []string, rel, name string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// escapes reports whether resolved lies outside base.
func escapes(base, resolved string) bool {
	if resolved == base {
		return false
	}
	return !strings.HasPrefix(resolved, base+string(os.PathSeparator))
}
