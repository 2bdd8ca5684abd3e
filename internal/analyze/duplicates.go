// Package analyze provides read-side analysis over the inventory: exact
// duplicate grouping by digest and near-duplicate similarity scoring.
package analyze

import (
	"context"
	"sort"

	"github.com/jomardyan/scriptdex/internal/models"
	"github.com/jomardyan/scriptdex/internal/store"
)

// DuplicateGroup is a set of records sharing one content digest.
type DuplicateGroup struct {
	Digest  string
	Records []models.ScriptRecord
}

// Duplicates groups non-missing records by digest, optionally scoped to one
// root (rootID 0 = all roots). Only groups with at least two members are
// returned, ordered by digest for determinism.
func Duplicates(ctx context.Context, inv store.Inventory, rootID int64) ([]DuplicateGroup, error) {
	records, err := inv.RecordsByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	byDigest := make(map[string][]models.ScriptRecord)
	for _, rec := range records {
		if rec.Missing || rec.Digest == "" {
			continue
		}
		byDigest[rec.Digest] = append(byDigest[rec.Digest], rec)
	}

	var out []DuplicateGroup
	for digest, group := range byDigest {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].RootID != group[j].RootID {
				return group[i].RootID < group[j].RootID
			}
			return group[i].RelPath < group[j].RelPath
		})
		out = append(out, DuplicateGroup{Digest: digest, Records: group})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out, nil
}
