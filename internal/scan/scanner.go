package scan

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// DefaultWorkers bounds the fingerprinting pool when no worker count is
// configured.
const DefaultWorkers = 8

// Scanner drives one full scan: walk, parallel fingerprinting, reconcile.
type Scanner struct {
	rec     *Reconciler
	workers int
	logger  *slog.Logger
}

// NewScanner creates a scanner with a bounded fingerprint worker pool.
func NewScanner(rec *Reconciler, workers int, logger *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scanner{rec: rec, workers: workers, logger: logger}
}

// Run walks the root, fingerprints candidates across the worker pool, and
// reconciles the observations in one batch. Per-file errors accumulate in the
// result; they never abort the scan. A cancelled context aborts before the
// commit, leaving the inventory untouched.
func (s *Scanner) Run(ctx context.Context, root models.FolderRoot, full bool) (Result, error) {
	candidates, err := Walk(ctx, root)
	if err != nil {
		return Result{}, err
	}

	var (
		mu           sync.Mutex
		observations []Observation
		errorPaths   []string
		skipped      int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for cand := range candidates {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				obs, errPath, ok := s.inspect(cand, root.ContentHashCap)
				mu.Lock()
				switch {
				case ok:
					observations = append(observations, obs)
				case errPath != "":
					errorPaths = append(errorPaths, errPath)
				case cand.Skipped != "":
					skipped++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{ErrorPaths: errorPaths}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{ErrorPaths: errorPaths}, err
	}

	// Workers interleave; restore a stable order before the diff.
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].RelPath < observations[j].RelPath
	})
	sort.Strings(errorPaths)

	res, err := s.rec.Reconcile(ctx, root, observations, full)
	res.ErrorPaths = append(res.ErrorPaths, errorPaths...)
	res.Skipped = skipped
	return res, err
}

// inspect turns one walk candidate into an observation. It returns the error
// path for entries that should count as scan errors; files that vanished
// mid-scan are silently dropped (next reconcile flags them missing).
func (s *Scanner) inspect(cand Candidate, hashCap int64) (Observation, string, bool) {
	switch {
	case cand.Err != nil:
		if errors.Is(cand.Err, apperr.ErrTransientIO) {
			return Observation{}, "", false
		}
		s.logger.Warn("scan: candidate error",
			slog.String("path", cand.RelPath),
			slog.String("error", cand.Err.Error()))
		return Observation{}, cand.RelPath, false

	case cand.Skipped != "":
		s.logger.Debug("scan: skipped",
			slog.String("path", cand.RelPath),
			slog.String("reason", cand.Skipped))
		return Observation{}, "", false
	}

	fp, err := Fingerprint(cand.AbsPath, hashCap)
	if err != nil {
		if errors.Is(err, apperr.ErrTransientIO) {
			return Observation{}, "", false
		}
		s.logger.Warn("scan: fingerprint failed",
			slog.String("path", cand.RelPath),
			slog.String("error", err.Error()))
		return Observation{}, cand.RelPath, false
	}
	return Observation{RelPath: cand.RelPath, Fingerprint: fp}, "", true
}
