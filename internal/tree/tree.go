// Package tree materializes the flat parent-referencing folder table into a
// nested hierarchy.
package tree

import (
	"fmt"
	"sort"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// Node is one folder in the materialized hierarchy.
type Node struct {
	Folder   models.Folder
	Children []*Node
}

// Report describes recoveries made while building the tree.
type Report struct {
	// Orphans lists folder IDs whose parent reference pointed outside the
	// set; they were attached under the root instead of being dropped.
	Orphans []int64
}

// Build turns folder rows into a tree rooted at the row with no parent.
// Folders are kept in an arena keyed by ID with parent references as IDs, so
// orphan and cycle checks stay cheap. Orphaned rows attach under the root and
// are reported; a cyclic parent chain fails with apperr.ErrCorruptHierarchy.
// Runs in O(folders).
func Build(folders []models.Folder) (*Node, Report, error) {
	var report Report
	if len(folders) == 0 {
		return nil, report, nil
	}

	arena := make(map[int64]*Node, len(folders))
	for _, f := range folders {
		arena[f.ID] = &Node{Folder: f}
	}

	var root *Node
	for _, f := range folders {
		if f.ParentID == 0 {
			if root != nil {
				// Two parentless rows cannot both be the root directory.
				return nil, report, fmt.Errorf("tree: multiple roots (%d and %d): %w",
					root.Folder.ID, f.ID, apperr.ErrCorruptHierarchy)
			}
			root = arena[f.ID]
		}
	}
	if root == nil {
		return nil, report, fmt.Errorf("tree: no root folder: %w", apperr.ErrCorruptHierarchy)
	}

	if err := detectCycles(folders, arena); err != nil {
		return nil, report, err
	}

	for _, f := range folders {
		if f.ParentID == 0 {
			continue
		}
		parent, ok := arena[f.ParentID]
		if !ok {
			// Recovery policy: orphans hang off the root, never dropped.
			report.Orphans = append(report.Orphans, f.ID)
			parent = root
		}
		parent.Children = append(parent.Children, arena[f.ID])
	}

	sortChildren(root)
	sort.Slice(report.Orphans, func(i, j int) bool { return report.Orphans[i] < report.Orphans[j] })
	return root, report, nil
}

// detectCycles walks each parent chain with a visit stamp; revisiting a node
// within the same walk means a corrupt chain.
func detectCycles(folders []models.Folder, arena map[int64]*Node) error {
	state := make(map[int64]int, len(folders)) // 0 unvisited, 1 in progress, 2 done
	for _, f := range folders {
		id := f.ID
		var chain []int64
		for {
			if state[id] == 2 {
				break
			}
			if state[id] == 1 {
				return fmt.Errorf("tree: cycle through folder %d: %w", id, apperr.ErrCorruptHierarchy)
			}
			state[id] = 1
			chain = append(chain, id)

			node, ok := arena[id]
			if !ok || node.Folder.ParentID == 0 {
				break
			}
			next := node.Folder.ParentID
			if _, exists := arena[next]; !exists {
				break // orphan; handled by the recovery policy
			}
			id = next
		}
		for _, c := range chain {
			state[c] = 2
		}
	}
	return nil
}

func sortChildren(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Folder.RelPath < n.Children[j].Folder.RelPath
	})
	for _, c := range n.Children {
		sortChildren(c)
	}
}
