package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/store"
)

// Match is one similarity candidate at or above the threshold.
type Match struct {
	Record models.ScriptRecord
	Score  float64 // normalized similarity in [0,1]
}

// Matcher computes approximate content similarity between a target record and
// size-compatible candidates.
type Matcher struct {
	inv store.Inventory
	// Size-ratio prefilter: only candidates whose size falls within
	// [target*RatioLow, target*RatioHigh] are compared.
	RatioLow  float64
	RatioHigh float64
	// MaxCandidates bounds the number of files read and diffed per query.
	MaxCandidates int
}

// NewMatcher creates a matcher with the default prefilter (half to double the
// target size, at most 50 candidates).
func NewMatcher(inv store.Inventory) *Matcher {
	return &Matcher{inv: inv, RatioLow: 0.5, RatioHigh: 2.0, MaxCandidates: 50}
}

// Similar returns candidates scoring at or above threshold against the target
// script, ordered by descending score with path as the tiebreak. Exact
// duplicates (same digest) are excluded; DuplicateGroups covers those.
// Deterministic: identical inputs always yield identical ordering.
func (m *Matcher) Similar(ctx context.Context, scriptID int64, threshold float64) ([]Match, error) {
	target, err := m.inv.RecordByID(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	root, err := m.inv.RootByID(ctx, target.RootID)
	if err != nil {
		return nil, err
	}

	targetContent, err := readNormalized(root.Path, target.RelPath)
	if err != nil {
		return nil, fmt.Errorf("analyze: read target: %w", err)
	}

	candidates, err := m.candidates(ctx, target)
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, cand := range candidates {
		// Candidates are scoped to the target's root, so its path applies.
		content, readErr := readNormalized(root.Path, cand.RelPath)
		if readErr != nil {
			continue
		}
		score := similarityRatio(targetContent, content)
		if score >= threshold {
			out = append(out, Match{Record: cand, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.RelPath < out[j].Record.RelPath
	})
	return out, nil
}

// candidates applies the size-ratio and language prefilters.
func (m *Matcher) candidates(ctx context.Context, target models.ScriptRecord) ([]models.ScriptRecord, error) {
	records, err := m.inv.RecordsByRoot(ctx, target.RootID)
	if err != nil {
		return nil, err
	}

	low := int64(float64(target.Size) * m.RatioLow)
	high := int64(float64(target.Size) * m.RatioHigh)

	var out []models.ScriptRecord
	for _, rec := range records {
		if rec.ID == target.ID || rec.Missing {
			continue
		}
		if rec.Digest == target.Digest {
			continue
		}
		if target.Language != "" && rec.Language != target.Language {
			continue
		}
		if target.Size > 0 && (rec.Size < low || rec.Size > high) {
			continue
		}
		out = append(out, rec)
	}

	// Closest sizes first, then path, so the candidate cap is deterministic.
	sort.Slice(out, func(i, j int) bool {
		di, dj := absDiff(out[i].Size, target.Size), absDiff(out[j].Size, target.Size)
		if di != dj {
			return di < dj
		}
		return out[i].RelPath < out[j].RelPath
	})
	if m.MaxCandidates > 0 && len(out) > m.MaxCandidates {
		out = out[:m.MaxCandidates]
	}
	return out, nil
}

// similarityRatio is a sequence-alignment ratio in [0,1]: twice the matched
// character count over the total length of both inputs.
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	var common int
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	return float64(2*common) / float64(len(a)+len(b))
}

// readNormalized reads a script and normalizes it for comparison: comment and
// blank lines dropped, remaining lines lowercased.
func readNormalized(rootPath, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(rootPath, filepath.FromSlash(relPath)))
	if err != nil {
		return "", err
	}
	return normalizeContent(string(data)), nil
}

func normalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	return strings.Join(out, "\n")
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
