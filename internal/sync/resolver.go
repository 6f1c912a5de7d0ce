package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openmined/portals/internal/core"
	"github.com/pmezard/go-difflib/difflib"
)

// Strategy is how a conflict gets resolved. The resolver never guesses, the
// caller picks exactly one.
type Strategy string

const (
	// StrategyUseLocal keeps the local version and force-pushes it.
	StrategyUseLocal Strategy = "use_local"
	// StrategyUseRemote keeps the remote version and force-pulls it.
	StrategyUseRemote Strategy = "use_remote"
	// StrategyManualMerge writes a merge document with conflict markers to
	// the local file and waits for the user to edit it; CompleteManualMerge
	// pushes the edited result.
	StrategyManualMerge Strategy = "manual_merge"
)

const (
	markerLocal  = "<<<<<<< LOCAL"
	markerSep    = "======="
	markerRemote = ">>>>>>> REMOTE"
)

// Resolver applies a chosen strategy to a conflicted pair.
type Resolver struct {
	engine *Engine
}

func NewResolver(engine *Engine) *Resolver {
	return &Resolver{engine: engine}
}

// Preview renders a unified diff of local vs remote so the user can inspect
// the conflict before choosing a strategy.
func (r *Resolver) Preview(ctx context.Context, pair *core.SyncPair) (string, error) {
	local, remote, err := r.readBothSides(ctx, pair)
	if err != nil {
		return "", err
	}
	return core.UnifiedDiff(local, remote, pair.LocalPath+" (local)", pair.RemoteID+" (remote)")
}

// Resolve applies the strategy. UseLocal and UseRemote finish the conflict in
// one step; ManualMerge leaves the pair conflicted with a marker document in
// place and must be completed with CompleteManualMerge.
func (r *Resolver) Resolve(ctx context.Context, pair *core.SyncPair, strategy Strategy) (*SyncResult, error) {
	switch strategy {
	case StrategyUseLocal:
		return r.engine.ForcePush(ctx, pair)
	case StrategyUseRemote:
		return r.engine.ForcePull(ctx, pair)
	case StrategyManualMerge:
		if err := r.writeMergeDocument(ctx, pair); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// CompleteManualMerge pushes the locally edited merge result. It refuses to
// complete while conflict markers are still present.
func (r *Resolver) CompleteManualMerge(ctx context.Context, pair *core.SyncPair) (*SyncResult, error) {
	doc, err := r.engine.local.Read(ctx, pair.LocalPath)
	if err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	if HasConflictMarkers(doc.Content) {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: fmt.Errorf("conflict markers still present")}
	}
	return r.engine.ForcePush(ctx, pair)
}

func (r *Resolver) readBothSides(ctx context.Context, pair *core.SyncPair) (string, string, error) {
	var local, remote string

	localDoc, err := r.engine.local.Read(ctx, pair.LocalPath)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return "", "", &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	if localDoc != nil {
		local = localDoc.Content
	}

	remoteAdapter, err := r.engine.resolve(pair.Platform)
	if err != nil {
		return "", "", &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	remoteDoc, err := remoteAdapter.Read(ctx, pair.RemoteID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return "", "", &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	if remoteDoc != nil {
		remote = remoteDoc.Content
	}

	return local, remote, nil
}

// writeMergeDocument replaces the local file with a marker document built
// from both versions. The watcher echo is suppressed, the merge write is not
// a user edit.
func (r *Resolver) writeMergeDocument(ctx context.Context, pair *core.SyncPair) error {
	local, remote, err := r.readBothSides(ctx, pair)
	if err != nil {
		return err
	}

	merged := MergeDocument(local, remote)
	if r.engine.echo != nil {
		r.engine.echo.IgnoreOnce(pair.LocalPath)
	}

	doc := core.NewDocument(merged, core.DocumentMeta{Title: pair.LocalPath})
	if _, err := r.engine.local.Write(ctx, pair.LocalPath, doc); err != nil {
		return &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	slog.Info("merge document written, edit then complete the merge", "path", pair.LocalPath)
	return nil
}

// MergeDocument interleaves both versions: regions where they agree appear
// once, differing regions are bounded by conflict markers with the local
// lines first.
func MergeDocument(local, remote string) string {
	localLines := strings.Split(local, "\n")
	remoteLines := strings.Split(remote, "\n")

	matcher := difflib.NewMatcher(localLines, remoteLines)

	var out []string
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			out = append(out, localLines[op.I1:op.I2]...)
			continue
		}
		out = append(out, markerLocal)
		out = append(out, localLines[op.I1:op.I2]...)
		out = append(out, markerSep)
		out = append(out, remoteLines[op.J1:op.J2]...)
		out = append(out, markerRemote)
	}
	return strings.Join(out, "\n")
}

// HasConflictMarkers reports whether a body still contains merge markers.
func HasConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimRight(line, " \t") {
		case markerLocal, markerSep, markerRemote:
			return true
		}
	}
	return false
}
