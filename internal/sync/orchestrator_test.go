package sync_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/adapter/localfs"
	"github.com/openmined/portals/internal/adapter/memory"
	"github.com/openmined/portals/internal/config"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	portalsync "github.com/openmined/portals/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPrompter answers with a fixed script and records what it was asked.
type scriptedPrompter struct {
	mu      gosync.Mutex
	answers []portalsync.PromptAnswer
	asked   []core.SyncDecision
}

func (p *scriptedPrompter) Ask(_ portalsync.ChangeEvent, decision core.SyncDecision) (portalsync.PromptAnswer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, decision)
	if len(p.answers) == 0 {
		return portalsync.AnswerNo, nil
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *scriptedPrompter) askedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.asked)
}

type sessionFixture struct {
	orch     *portalsync.Orchestrator
	store    *store.MetadataStore
	snapshot *store.PollSnapshot
	poller   *portalsync.RemotePoller
	remote   *memory.Adapter
	baseDir  string
	cancel   context.CancelFunc
	done     chan error
}

func newSessionFixture(t *testing.T, mode config.Mode, opts ...portalsync.OrchestratorOption) *sessionFixture {
	t.Helper()

	baseDir := t.TempDir()
	baseDir, err := filepath.EvalSymlinks(baseDir)
	require.NoError(t, err)

	st := store.NewMetadataStore(baseDir)
	require.NoError(t, st.Init())

	snap := store.NewPollSnapshot(filepath.Join(baseDir, ".portals", "snapshot.db"))
	require.NoError(t, snap.Open())
	t.Cleanup(func() { snap.Close() })

	local, err := localfs.New(baseDir)
	require.NoError(t, err)

	remote := memory.New()
	resolve := func(platform string) (adapter.Adapter, error) {
		if platform != "memory" {
			return nil, fmt.Errorf("unknown platform %q", platform)
		}
		return remote, nil
	}

	cfg := config.Default()
	cfg.DataDir = baseDir
	cfg.Mode = mode
	cfg.DebounceSeconds = 0.05

	ignores := portalsync.NewIgnoreList(baseDir, nil)
	ignores.Load()
	watcher := portalsync.NewFileWatcher(baseDir, ignores, cfg.Debounce())
	engine := portalsync.NewEngine(st, local, resolve, portalsync.WithEchoSuppressor(watcher))

	var pollerOpts []portalsync.PollerOption
	if mode == config.ModeDryRun {
		pollerOpts = append(pollerOpts, portalsync.WithSnapshotReadOnly())
	}
	poller := portalsync.NewRemotePoller(st, snap, resolve, time.Minute, pollerOpts...)

	orch, err := portalsync.NewOrchestrator(cfg, st, engine, watcher, poller, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	f := &sessionFixture{
		orch: orch, store: st, snapshot: snap, poller: poller,
		remote: remote, baseDir: baseDir, cancel: cancel, done: done,
	}
	t.Cleanup(func() { f.stop(t) })

	// let the watcher subscribe before the test writes files
	time.Sleep(100 * time.Millisecond)
	return f
}

func (f *sessionFixture) stop(t *testing.T) {
	t.Helper()
	f.cancel()
	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func (f *sessionFixture) addPair(t *testing.T, localPath, remoteID string) *core.SyncPair {
	t.Helper()
	pair := core.NewSyncPair(localPath, remoteID, "memory")
	require.NoError(t, f.store.AddPair(pair))
	return pair
}

func (f *sessionFixture) writeLocal(t *testing.T, relPath, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.baseDir, relPath), []byte(content), 0o644))
}

func remoteContent(t *testing.T, remote *memory.Adapter, locator string) string {
	t.Helper()
	doc, err := remote.Read(context.Background(), locator)
	require.NoError(t, err)
	return doc.Content
}

func TestAutoModeSyncsLocalEdit(t *testing.T) {
	f := newSessionFixture(t, config.ModeAuto)
	f.addPair(t, "note.md", "r1")

	f.writeLocal(t, "note.md", "# written while watching")

	assert.Eventually(t, func() bool {
		doc, err := f.remote.Read(context.Background(), "r1")
		return err == nil && doc.Content == "# written while watching"
	}, 5*time.Second, 50*time.Millisecond, "local edit should be pushed")
}

func TestAutoModeNeverResolvesConflictSilently(t *testing.T) {
	var conflictMu gosync.Mutex
	var conflicts []core.SyncDecision

	f := newSessionFixture(t, config.ModeAuto,
		portalsync.WithConflictHandler(func(_ *core.SyncPair, decision core.SyncDecision) {
			conflictMu.Lock()
			conflicts = append(conflicts, decision)
			conflictMu.Unlock()
		}))
	pair := f.addPair(t, "note.md", "r1")

	// establish a synced base out of band
	baseHash := core.HashContent("base")
	f.writeLocal(t, "note.md", "base")
	f.remote.Seed("r1", "base")
	require.NoError(t, f.store.UpdatePairState(pair.ID, &core.SyncPairState{
		LocalHash: baseHash, RemoteHash: baseHash, BaseHash: baseHash, LastSync: time.Now(),
	}))

	// diverge both sides, then touch local to raise the event
	_, err := f.remote.Write(context.Background(), "r1", core.NewDocument("remote edit", core.DocumentMeta{}))
	require.NoError(t, err)
	writesBefore := f.remote.WriteCount()
	f.writeLocal(t, "note.md", "local edit")

	assert.Eventually(t, func() bool {
		conflictMu.Lock()
		defer conflictMu.Unlock()
		return len(conflicts) == 1
	}, 5*time.Second, 50*time.Millisecond, "conflict should surface")

	// nothing was transferred
	assert.Equal(t, writesBefore, f.remote.WriteCount())
	assert.Equal(t, "remote edit", remoteContent(t, f.remote, "r1"))

	state, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, state.Pairs[pair.ID].State.HasConflict)
	assert.Equal(t, baseHash, state.Pairs[pair.ID].State.BaseHash)
}

func TestDryRunNeverMutates(t *testing.T) {
	var decisionMu gosync.Mutex
	var decisions []core.SyncDecision

	f := newSessionFixture(t, config.ModeDryRun,
		portalsync.WithDecisionReporter(func(_ portalsync.ChangeEvent, d core.SyncDecision) {
			decisionMu.Lock()
			decisions = append(decisions, d)
			decisionMu.Unlock()
		}))
	pair := f.addPair(t, "note.md", "r1")

	f.writeLocal(t, "note.md", "# dry run content")

	assert.Eventually(t, func() bool {
		decisionMu.Lock()
		defer decisionMu.Unlock()
		return len(decisions) == 1
	}, 5*time.Second, 50*time.Millisecond, "decision should be reported")

	decisionMu.Lock()
	assert.Equal(t, core.Push, decisions[0].Status)
	decisionMu.Unlock()

	// no mutation anywhere: remote untouched, no persisted pair state
	assert.Equal(t, 0, f.remote.WriteCount())
	state, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, state.Pairs[pair.ID].State)
}

func TestDryRunLeavesPollSnapshotUntouched(t *testing.T) {
	var decisionMu gosync.Mutex
	var decisions []core.SyncDecision

	f := newSessionFixture(t, config.ModeDryRun,
		portalsync.WithDecisionReporter(func(_ portalsync.ChangeEvent, d core.SyncDecision) {
			decisionMu.Lock()
			decisions = append(decisions, d)
			decisionMu.Unlock()
		}))
	f.addPair(t, "note.md", "r1")

	// a remote-only edit observed during the dry run
	f.remote.Seed("r1", "remote edit")
	f.poller.PollOnce(context.Background())

	assert.Eventually(t, func() bool {
		decisionMu.Lock()
		defer decisionMu.Unlock()
		return len(decisions) == 1
	}, 5*time.Second, 50*time.Millisecond, "remote change should be reported")

	// the fingerprint was not recorded, so the next real session sees it too
	entry, err := f.snapshot.Get("r1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPromptModeYesApplies(t *testing.T) {
	prompter := &scriptedPrompter{answers: []portalsync.PromptAnswer{portalsync.AnswerYes}}
	f := newSessionFixture(t, config.ModePrompt, portalsync.WithPrompter(prompter))
	f.addPair(t, "note.md", "r1")

	f.writeLocal(t, "note.md", "approved content")

	assert.Eventually(t, func() bool {
		doc, err := f.remote.Read(context.Background(), "r1")
		return err == nil && doc.Content == "approved content"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, prompter.askedCount())
}

func TestPromptModeNoSkips(t *testing.T) {
	prompter := &scriptedPrompter{answers: []portalsync.PromptAnswer{portalsync.AnswerNo}}
	f := newSessionFixture(t, config.ModePrompt, portalsync.WithPrompter(prompter))
	f.addPair(t, "note.md", "r1")

	f.writeLocal(t, "note.md", "rejected content")

	assert.Eventually(t, func() bool {
		return prompter.askedCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	// declined: nothing transferred
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, f.remote.WriteCount())
}

func TestPromptModeQuitStopsSession(t *testing.T) {
	prompter := &scriptedPrompter{answers: []portalsync.PromptAnswer{portalsync.AnswerQuit}}
	f := newSessionFixture(t, config.ModePrompt, portalsync.WithPrompter(prompter))
	f.addPair(t, "note.md", "r1")

	f.writeLocal(t, "note.md", "this triggers the quit prompt")

	assert.Eventually(t, func() bool {
		return f.orch.State() == portalsync.StateStopped
	}, 5*time.Second, 50*time.Millisecond, "quit answer should end the session")
}

func TestPromptModeRequiresPrompter(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Mode = config.ModePrompt

	_, err := portalsync.NewOrchestrator(cfg, nil, nil, nil, nil)
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestUntrackedEventIsIgnored(t *testing.T) {
	f := newSessionFixture(t, config.ModeAuto)
	// no pair registered for this path
	f.writeLocal(t, "unpaired.md", "nobody tracks me")

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, f.remote.WriteCount())
	assert.Equal(t, portalsync.StateWatching, f.orch.State())
}
