package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
)

// EchoSuppressor lets the engine mark its own local writes so the file
// watcher does not report them back as user edits.
type EchoSuppressor interface {
	IgnoreOnce(relPath string)
}

// SyncResult is the outcome of one sync transaction.
type SyncResult struct {
	Pair     *core.SyncPair
	Decision core.SyncDecision
	Applied  bool
	SyncedAt time.Time
}

// Engine executes sync transactions. It is the only component that mutates
// SyncPairState, and only after a transfer has been confirmed. At most one
// sync per pair runs at a time; a second attempt fails fast with
// core.ErrSyncInFlight.
type Engine struct {
	metaStore *store.MetadataStore
	local     adapter.Adapter
	resolve   AdapterResolver
	echo      EchoSuppressor

	inFlight   map[string]struct{}
	inFlightMu gosync.Mutex
}

type EngineOption func(*Engine)

// WithEchoSuppressor wires the file watcher's echo suppression into pulls.
func WithEchoSuppressor(echo EchoSuppressor) EngineOption {
	return func(e *Engine) { e.echo = echo }
}

func NewEngine(metaStore *store.MetadataStore, local adapter.Adapter, resolve AdapterResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		metaStore: metaStore,
		local:     local,
		resolve:   resolve,
		inFlight:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) acquire(pairID string) error {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if _, busy := e.inFlight[pairID]; busy {
		return core.ErrSyncInFlight
	}
	e.inFlight[pairID] = struct{}{}
	return nil
}

func (e *Engine) release(pairID string) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	delete(e.inFlight, pairID)
}

// snapshotHashes reads both sides and returns (localDoc, remoteDoc, local
// hash, remote hash). A missing document on either side hashes to the empty
// string.
func (e *Engine) snapshotHashes(ctx context.Context, pair *core.SyncPair, remote adapter.Adapter) (*core.Document, *core.Document, string, string, error) {
	var localHash, remoteHash string

	localDoc, err := e.local.Read(ctx, pair.LocalPath)
	switch {
	case err == nil:
		localHash = localDoc.ContentHash
	case errors.Is(err, core.ErrNotFound):
		localDoc = nil
	default:
		return nil, nil, "", "", fmt.Errorf("read local: %w", err)
	}

	remoteDoc, err := remote.Read(ctx, pair.RemoteID)
	switch {
	case err == nil:
		remoteHash = remoteDoc.ContentHash
	case errors.Is(err, core.ErrNotFound):
		remoteDoc = nil
	default:
		return nil, nil, "", "", fmt.Errorf("read remote: %w", err)
	}

	return localDoc, remoteDoc, localHash, remoteHash, nil
}

// Preview classifies a pair without mutating anything on either side.
func (e *Engine) Preview(ctx context.Context, pair *core.SyncPair) (core.SyncDecision, error) {
	remote, err := e.resolve(pair.Platform)
	if err != nil {
		return core.SyncDecision{}, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	_, _, localHash, remoteHash, err := e.snapshotHashes(ctx, pair, remote)
	if err != nil {
		return core.SyncDecision{}, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	return core.Classify(localHash, remoteHash, pair.BaseHash()), nil
}

// Sync runs one full transaction for a pair: read both sides, classify,
// execute, persist. The pair state is written in exactly one store
// read-modify-write, and only after the transfer succeeded; any failure
// leaves the persisted state untouched.
func (e *Engine) Sync(ctx context.Context, pair *core.SyncPair) (*SyncResult, error) {
	if err := e.acquire(pair.ID); err != nil {
		return nil, err
	}
	defer e.release(pair.ID)

	remote, err := e.resolve(pair.Platform)
	if err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	localDoc, remoteDoc, localHash, remoteHash, err := e.snapshotHashes(ctx, pair, remote)
	if err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	decision := core.Classify(localHash, remoteHash, pair.BaseHash())
	result := &SyncResult{Pair: pair, Decision: decision, SyncedAt: time.Now().UTC()}

	switch decision.Status {
	case core.NoChange:
		return result, nil

	case core.Push:
		if err := e.push(ctx, pair, remote, localDoc); err != nil {
			return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
		}
		if err := e.commit(pair, localHash, result.SyncedAt); err != nil {
			return nil, err
		}
		result.Applied = true
		slog.Info("pushed", "path", pair.LocalPath, "remoteID", pair.RemoteID)

	case core.Pull:
		if err := e.pull(ctx, pair, remoteDoc); err != nil {
			return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
		}
		if err := e.commit(pair, remoteHash, result.SyncedAt); err != nil {
			return nil, err
		}
		result.Applied = true
		slog.Info("pulled", "path", pair.LocalPath, "remoteID", pair.RemoteID)

	case core.IdenticalChange:
		// both sides already hold the same content, only the base moves
		if err := e.commit(pair, localHash, result.SyncedAt); err != nil {
			return nil, err
		}
		result.Applied = true
		slog.Info("identical change, base advanced", "path", pair.LocalPath)

	case core.Conflict:
		if err := e.markConflict(pair, decision); err != nil {
			return nil, err
		}
		slog.Warn("conflict detected", "path", pair.LocalPath,
			"local", shortHash(localHash), "remote", shortHash(remoteHash), "base", shortHash(pair.BaseHash()))
	}

	return result, nil
}

// push sends the local document to the remote. A deleted local file archives
// the remote node instead.
func (e *Engine) push(ctx context.Context, pair *core.SyncPair, remote adapter.Adapter, localDoc *core.Document) error {
	if localDoc == nil {
		return remote.Delete(ctx, pair.RemoteID)
	}
	_, err := remote.Write(ctx, pair.RemoteID, localDoc)
	return err
}

// pull writes the remote document locally. An archived remote trashes the
// local file. The write is announced to the watcher first so our own change
// does not echo back.
func (e *Engine) pull(ctx context.Context, pair *core.SyncPair, remoteDoc *core.Document) error {
	if e.echo != nil {
		e.echo.IgnoreOnce(pair.LocalPath)
	}
	if remoteDoc == nil {
		return e.local.Delete(ctx, pair.LocalPath)
	}
	_, err := e.local.Write(ctx, pair.LocalPath, remoteDoc)
	return err
}

// commit persists the post-transfer state: all three hashes aligned on the
// synced content, conflict flag cleared. This is the only place base hash
// advances.
func (e *Engine) commit(pair *core.SyncPair, syncedHash string, at time.Time) error {
	state := &core.SyncPairState{
		LocalHash:  syncedHash,
		RemoteHash: syncedHash,
		BaseHash:   syncedHash,
		LastSync:   at,
	}
	if err := e.metaStore.UpdatePairState(pair.ID, state); err != nil {
		return &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	pair.State = state
	return nil
}

// markConflict flags the pair without touching the hash triad; the base hash
// stays where it was so reclassification after resolution still works.
func (e *Engine) markConflict(pair *core.SyncPair, decision core.SyncDecision) error {
	state := &core.SyncPairState{
		LocalHash:   decision.LocalHash,
		RemoteHash:  decision.RemoteHash,
		BaseHash:    decision.BaseHash,
		HasConflict: true,
	}
	if pair.State != nil {
		state.LastSync = pair.State.LastSync
	}
	if err := e.metaStore.UpdatePairState(pair.ID, state); err != nil {
		return &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	pair.State = state
	return nil
}

// ForcePush overwrites the remote with the local content, bypassing
// classification. Used by conflict resolution.
func (e *Engine) ForcePush(ctx context.Context, pair *core.SyncPair) (*SyncResult, error) {
	if err := e.acquire(pair.ID); err != nil {
		return nil, err
	}
	defer e.release(pair.ID)

	remote, err := e.resolve(pair.Platform)
	if err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	localDoc, err := e.local.Read(ctx, pair.LocalPath)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	if errors.Is(err, core.ErrNotFound) {
		localDoc = nil
	}

	if err := e.push(ctx, pair, remote, localDoc); err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	hash := ""
	if localDoc != nil {
		hash = localDoc.ContentHash
	}
	now := time.Now().UTC()
	if err := e.commit(pair, hash, now); err != nil {
		return nil, err
	}

	slog.Info("force pushed", "path", pair.LocalPath, "remoteID", pair.RemoteID)
	return &SyncResult{
		Pair:     pair,
		Decision: core.SyncDecision{Status: core.Push, LocalHash: hash, RemoteHash: hash, BaseHash: hash, Reason: "forced"},
		Applied:  true,
		SyncedAt: now,
	}, nil
}

// ForcePull overwrites the local file with the remote content, bypassing
// classification. Used by conflict resolution.
func (e *Engine) ForcePull(ctx context.Context, pair *core.SyncPair) (*SyncResult, error) {
	if err := e.acquire(pair.ID); err != nil {
		return nil, err
	}
	defer e.release(pair.ID)

	remote, err := e.resolve(pair.Platform)
	if err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	remoteDoc, err := remote.Read(ctx, pair.RemoteID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}
	if errors.Is(err, core.ErrNotFound) {
		remoteDoc = nil
	}

	if err := e.pull(ctx, pair, remoteDoc); err != nil {
		return nil, &core.SyncError{Path: pair.LocalPath, Err: err}
	}

	hash := ""
	if remoteDoc != nil {
		hash = remoteDoc.ContentHash
	}
	now := time.Now().UTC()
	if err := e.commit(pair, hash, now); err != nil {
		return nil, err
	}

	slog.Info("force pulled", "path", pair.LocalPath, "remoteID", pair.RemoteID)
	return &SyncResult{
		Pair:     pair,
		Decision: core.SyncDecision{Status: core.Pull, LocalHash: hash, RemoteHash: hash, BaseHash: hash, Reason: "forced"},
		Applied:  true,
		SyncedAt: now,
	}, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
