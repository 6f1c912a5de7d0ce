// Package hierarchy maps a local markdown tree onto a hierarchical remote
// store. It builds a node tree from a path listing, diffs it against the
// persisted mapping into an ordered plan, and applies the plan through an
// adapter. Parents are always created strictly before their children.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
)

// Node is one directory or file in the tracked tree. Path is the
// slash-separated relative path; the root node has an empty path. Children
// are keyed by segment name, order carries no meaning.
type Node struct {
	Path     string
	RemoteID string
	IsDir    bool
	Children map[string]*Node
}

// Child returns the named child or nil.
func (n *Node) Child(name string) *Node {
	return n.Children[name]
}

// Walk visits the tree in depth-first preorder, parents before children.
// Children are visited in name order so plans are deterministic.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n.Children[name].Walk(fn)
	}
}

// BuildTree groups relative file paths into a node tree. One node per
// directory, one leaf per file.
func BuildTree(paths []string) *Node {
	tree := &Node{Path: "", IsDir: true, Children: map[string]*Node{}}

	for _, p := range paths {
		p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
		if p == "." || p == "" {
			continue
		}

		segments := strings.Split(p, "/")
		current := tree
		for i, seg := range segments {
			isLeaf := i == len(segments)-1
			child := current.Children[seg]
			if child == nil {
				child = &Node{
					Path:     path.Join(current.Path, seg),
					IsDir:    !isLeaf,
					Children: map[string]*Node{},
				}
				current.Children[seg] = child
			}
			current = child
		}
	}
	return tree
}

// OpKind discriminates plan operations.
type OpKind string

const (
	OpCreateDir  OpKind = "create_dir"
	OpCreateFile OpKind = "create_file"
	OpRename     OpKind = "rename"
	OpArchive    OpKind = "archive"
)

// PlanOp is one step of a creation plan. For renames OldPath names the path
// the remote node was previously mapped to; for renames and archives RemoteID
// carries the already-known locator.
type PlanOp struct {
	Kind     OpKind
	Path     string
	OldPath  string
	RemoteID string
}

// Plan diffs a freshly scanned tree against the persisted path->remote-id
// mapping and produces an ordered operation list: every parent is created (or
// already exists) strictly before its children.
//
// hashes carries the current content hash for present files and the
// last-synced hash for files that disappeared; a vanished path whose hash
// reappears under a new path is a rename (remote metadata update, identity
// preserved) instead of archive+create. Remaining vanished paths are archived,
// never hard-deleted.
func Plan(tree *Node, existing map[string]string, hashes map[string]string) []PlanOp {
	present := map[string]*Node{}
	tree.Walk(func(n *Node) {
		if n.Path != "" {
			present[n.Path] = n
		}
	})

	// vanished paths, sorted for deterministic rename matching
	var vanished []string
	for p := range existing {
		if _, ok := present[p]; !ok {
			vanished = append(vanished, p)
		}
	}
	sort.Strings(vanished)

	var candidates []string
	for p, n := range present {
		if n.IsDir {
			continue
		}
		if _, tracked := existing[p]; tracked {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Strings(candidates)

	renamedFrom := map[string]string{} // new path -> old path
	consumed := map[string]bool{}
	for _, newPath := range candidates {
		h := hashes[newPath]
		if h == "" {
			continue
		}
		for _, old := range vanished {
			if consumed[old] || hashes[old] != h {
				continue
			}
			renamedFrom[newPath] = old
			consumed[old] = true
			break
		}
	}

	var ops []PlanOp
	tree.Walk(func(n *Node) {
		if n.Path == "" {
			return
		}
		if _, tracked := existing[n.Path]; tracked {
			return
		}
		if old, ok := renamedFrom[n.Path]; ok {
			ops = append(ops, PlanOp{Kind: OpRename, Path: n.Path, OldPath: old, RemoteID: existing[old]})
			return
		}
		kind := OpCreateFile
		if n.IsDir {
			kind = OpCreateDir
		}
		ops = append(ops, PlanOp{Kind: kind, Path: n.Path})
	})

	for _, old := range vanished {
		if consumed[old] {
			continue
		}
		ops = append(ops, PlanOp{Kind: OpArchive, Path: old, RemoteID: existing[old]})
	}
	return ops
}

// Apply executes a plan through the adapter. rootID locates the remote
// container for top-level nodes. Newly created remote ids are registered back
// into mapping as they appear, so later ops in the same plan can resolve their
// parents. A failed op aborts the plan; the ops that already went through are
// returned alongside the error so callers can persist them. Rerunning a plan
// without persisting them would create the same remote nodes twice.
func Apply(ctx context.Context, plan []PlanOp, a adapter.Adapter, rootID string, mapping map[string]string) ([]PlanOp, error) {
	var applied []PlanOp
	for _, op := range plan {
		switch op.Kind {
		case OpCreateDir, OpCreateFile:
			parentID := rootID
			if dir := path.Dir(op.Path); dir != "." {
				id, ok := mapping[dir]
				if !ok {
					return applied, fmt.Errorf("apply %s %s: parent %s has no remote id", op.Kind, op.Path, dir)
				}
				parentID = id
			}

			var doc *core.Document
			if op.Kind == OpCreateFile {
				doc = core.NewDocument("", core.DocumentMeta{Title: nodeTitle(op.Path)})
			}
			id, err := a.Create(ctx, parentID, nodeTitle(op.Path), doc)
			if err != nil {
				return applied, fmt.Errorf("apply %s %s: %w", op.Kind, op.Path, err)
			}
			mapping[op.Path] = id
			slog.Debug("remote node created", "path", op.Path, "remoteID", id)

		case OpRename:
			doc, err := a.Read(ctx, op.RemoteID)
			if err != nil {
				return applied, fmt.Errorf("apply rename %s -> %s: %w", op.OldPath, op.Path, err)
			}
			doc.Meta.Title = nodeTitle(op.Path)
			if _, err := a.Write(ctx, op.RemoteID, doc); err != nil {
				return applied, fmt.Errorf("apply rename %s -> %s: %w", op.OldPath, op.Path, err)
			}
			delete(mapping, op.OldPath)
			mapping[op.Path] = op.RemoteID
			slog.Info("remote node renamed", "from", op.OldPath, "to", op.Path, "remoteID", op.RemoteID)

		case OpArchive:
			if err := a.Delete(ctx, op.RemoteID); err != nil {
				return applied, fmt.Errorf("apply archive %s: %w", op.Path, err)
			}
			delete(mapping, op.Path)
			slog.Info("remote node archived", "path", op.Path, "remoteID", op.RemoteID)

		default:
			return applied, fmt.Errorf("unknown plan op %q", op.Kind)
		}
		applied = append(applied, op)
	}
	return applied, nil
}

// nodeTitle derives the remote display title from the last path segment,
// dropping a markdown extension.
func nodeTitle(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
