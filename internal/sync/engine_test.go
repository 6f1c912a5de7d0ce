package sync_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/adapter/localfs"
	"github.com/openmined/portals/internal/adapter/memory"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	portalsync "github.com/openmined/portals/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRecorder struct {
	paths []string
}

func (r *echoRecorder) IgnoreOnce(relPath string) {
	r.paths = append(r.paths, relPath)
}

type engineFixture struct {
	engine  *portalsync.Engine
	store   *store.MetadataStore
	local   *localfs.Adapter
	remote  *memory.Adapter
	echo    *echoRecorder
	baseDir string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	baseDir := t.TempDir()
	st := store.NewMetadataStore(baseDir)
	require.NoError(t, st.Init())

	local, err := localfs.New(baseDir)
	require.NoError(t, err)

	remote := memory.New()
	resolve := func(platform string) (adapter.Adapter, error) {
		if platform != "memory" {
			return nil, fmt.Errorf("unknown platform %q", platform)
		}
		return remote, nil
	}

	echo := &echoRecorder{}
	engine := portalsync.NewEngine(st, local, resolve, portalsync.WithEchoSuppressor(echo))

	return &engineFixture{engine: engine, store: st, local: local, remote: remote, echo: echo, baseDir: baseDir}
}

func (f *engineFixture) addPair(t *testing.T, localPath, remoteID string) *core.SyncPair {
	t.Helper()
	pair := core.NewSyncPair(localPath, remoteID, "memory")
	require.NoError(t, f.store.AddPair(pair))
	return pair
}

func (f *engineFixture) writeLocal(t *testing.T, relPath, content string) {
	t.Helper()
	abs := filepath.Join(f.baseDir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (f *engineFixture) readLocal(t *testing.T, relPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.baseDir, relPath))
	require.NoError(t, err)
	return string(data)
}

func (f *engineFixture) storedState(t *testing.T, pairID string) *core.SyncPairState {
	t.Helper()
	state, err := f.store.Load()
	require.NoError(t, err)
	require.Contains(t, state.Pairs, pairID)
	return state.Pairs[pairID].State
}

func TestFirstSyncPushes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "# hello")

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.Push, result.Decision.Status)
	assert.True(t, result.Applied)

	remoteDoc, err := f.remote.Read(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "# hello", remoteDoc.Content)

	wantHash := core.HashContent("# hello")
	persisted := f.storedState(t, pair.ID)
	require.NotNil(t, persisted)
	assert.Equal(t, wantHash, persisted.LocalHash)
	assert.Equal(t, wantHash, persisted.RemoteHash)
	assert.Equal(t, wantHash, persisted.BaseHash)
	assert.False(t, persisted.HasConflict)
	assert.False(t, persisted.LastSync.IsZero())
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "# hello")

	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	writesAfterFirst := f.remote.WriteCount()

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.NoChange, result.Decision.Status)
	assert.False(t, result.Applied)
	assert.Equal(t, writesAfterFirst, f.remote.WriteCount())
}

func TestRemoteChangePulls(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "v1")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	remoteDoc := core.NewDocument("v2 from remote", core.DocumentMeta{Title: "note"})
	_, err = f.remote.Write(ctx, "r1", remoteDoc)
	require.NoError(t, err)

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.Pull, result.Decision.Status)
	assert.True(t, result.Applied)
	assert.Equal(t, "v2 from remote", f.readLocal(t, "note.md"))

	// our own write was announced to the watcher
	assert.Contains(t, f.echo.paths, "note.md")
}

func TestIdenticalChangeAdvancesBaseOnly(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "v1")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	// both sides edited to the same content
	f.writeLocal(t, "note.md", "converged")
	_, err = f.remote.Write(ctx, "r1", core.NewDocument("converged", core.DocumentMeta{}))
	require.NoError(t, err)
	writesBefore := f.remote.WriteCount()

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.IdenticalChange, result.Decision.Status)
	assert.True(t, result.Applied)
	// no transfer happened
	assert.Equal(t, writesBefore, f.remote.WriteCount())
	assert.Equal(t, core.HashContent("converged"), f.storedState(t, pair.ID).BaseHash)
}

func TestConflictIsDetectedAndNeverMutates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "base")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	baseHash := core.HashContent("base")

	// independent divergence
	f.writeLocal(t, "note.md", "local edit")
	_, err = f.remote.Write(ctx, "r1", core.NewDocument("remote edit", core.DocumentMeta{}))
	require.NoError(t, err)
	writesBefore := f.remote.WriteCount()

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.Conflict, result.Decision.Status)
	assert.False(t, result.Applied)
	assert.Equal(t, core.HashContent("local edit"), result.Decision.LocalHash)
	assert.Equal(t, core.HashContent("remote edit"), result.Decision.RemoteHash)
	assert.Equal(t, baseHash, result.Decision.BaseHash)

	// neither side was touched
	assert.Equal(t, "local edit", f.readLocal(t, "note.md"))
	remoteDoc, err := f.remote.Read(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "remote edit", remoteDoc.Content)
	assert.Equal(t, writesBefore, f.remote.WriteCount())

	// base did not advance, conflict is flagged
	persisted := f.storedState(t, pair.ID)
	assert.True(t, persisted.HasConflict)
	assert.Equal(t, baseHash, persisted.BaseHash)
}

func TestTransferFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "v1")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	before := f.storedState(t, pair.ID)

	f.writeLocal(t, "note.md", "v2")
	f.remote.WriteErr = errors.New("remote exploded")

	_, err = f.engine.Sync(ctx, pair)
	require.Error(t, err)
	var syncErr *core.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "note.md", syncErr.Path)

	after := f.storedState(t, pair.ID)
	assert.Equal(t, before.BaseHash, after.BaseHash)
	assert.Equal(t, before.LocalHash, after.LocalHash)
	assert.Equal(t, before.LastSync, after.LastSync)

	// recovery: clearing the fault lets the same sync complete
	f.remote.WriteErr = nil
	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, core.Push, result.Decision.Status)
	assert.True(t, result.Applied)
}

func TestLocalDeletionArchivesRemote(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "v1")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.baseDir, "note.md")))

	result, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	assert.Equal(t, core.Push, result.Decision.Status)
	assert.True(t, f.remote.Archived("r1"))
	assert.Equal(t, "", f.storedState(t, pair.ID).BaseHash)
}

func TestForcePushRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "base")
	_, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)

	// diverge into a conflict, then force local
	f.writeLocal(t, "note.md", "local wins")
	_, err = f.remote.Write(ctx, "r1", core.NewDocument("remote loses", core.DocumentMeta{}))
	require.NoError(t, err)

	result, err := f.engine.ForcePush(ctx, pair)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	remoteDoc, err := f.remote.Read(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "local wins", remoteDoc.Content)

	// force push converges: the next sync is a no-op
	next, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, core.NoChange, next.Decision.Status)
	assert.False(t, f.storedState(t, pair.ID).HasConflict)
}

func TestForcePullOverwritesLocal(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "local loses")
	f.remote.Seed("r1", "remote wins")

	result, err := f.engine.ForcePull(ctx, pair)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, "remote wins", f.readLocal(t, "note.md"))

	next, err := f.engine.Sync(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, core.NoChange, next.Decision.Status)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	pair := f.addPair(t, "note.md", "r1")
	f.writeLocal(t, "note.md", "# hello")

	decision, err := f.engine.Preview(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, core.Push, decision.Status)

	// nothing moved: no remote write, no persisted state
	assert.Equal(t, 0, f.remote.WriteCount())
	assert.Nil(t, f.storedState(t, pair.ID))
}
