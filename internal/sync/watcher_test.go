package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, debounce time.Duration) (*FileWatcher, string) {
	t.Helper()

	tempDir := t.TempDir()
	// macos tmpdirs are symlinks into /private
	tempDir, err := filepath.EvalSymlinks(tempDir)
	require.NoError(t, err)

	ignores := NewIgnoreList(tempDir, nil)
	ignores.Load()

	w := NewFileWatcher(tempDir, ignores, debounce)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(w.Stop)

	return w, tempDir
}

func waitForEvent(t *testing.T, events <-chan ChangeEvent, timeout time.Duration) ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(timeout):
		t.Fatal("timeout waiting for change event")
		return ChangeEvent{}
	}
}

func TestWatcherEmitsLocalEvent(t *testing.T) {
	w, dir := newTestWatcher(t, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello"), 0o644))

	event := waitForEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, "note.md", event.Path)
	assert.Equal(t, OriginLocal, event.Origin)
	assert.False(t, event.DetectedAt.IsZero())
}

func TestWatcherDebounceCoalesces(t *testing.T) {
	w, dir := newTestWatcher(t, 200*time.Millisecond)
	path := filepath.Join(dir, "burst.md")

	// a burst of writes within the window
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("content iteration"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	event := waitForEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, "burst.md", event.Path)

	// exactly one event after the burst settles
	select {
	case extra := <-w.Events():
		t.Fatalf("expected a single coalesced event, got another: %+v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherIgnoreOnceSuppressesEcho(t *testing.T) {
	// debounce longer than the one-second grace: the entry has to survive
	// until the event flushes, not just until it arrives
	w, dir := newTestWatcher(t, 1200*time.Millisecond)

	w.IgnoreOnce("pulled.md")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulled.md"), []byte("pulled content"), 0o644))

	select {
	case event := <-w.Events():
		t.Fatalf("expected suppression, got %+v", event)
	case <-time.After(2500 * time.Millisecond):
	}

	// suppression is one-shot: the next write comes through
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulled.md"), []byte("user edit"), 0o644))
	event := waitForEvent(t, w.Events(), 5*time.Second)
	assert.Equal(t, "pulled.md", event.Path)
}

func TestWatcherStopFlushesPendingExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	ignores := NewIgnoreList(dir, nil)
	ignores.Load()

	// debounce long enough that the timer is still pending at Stop
	w := NewFileWatcher(dir, ignores, time.Minute)
	require.NoError(t, w.Start(t.Context()))

	w.debounceEvent("late.md", ChangeModified)
	w.Stop()

	// a timer callback racing Stop finds its entry already flushed and must
	// not touch the closed channel
	w.flushEvent("late.md")

	event, ok := <-w.Events()
	require.True(t, ok, "the pending event should flush on shutdown")
	assert.Equal(t, "late.md", event.Path)

	_, ok = <-w.Events()
	assert.False(t, ok, "no duplicate after the channel closes")
}

func TestWatcherFiltersUntrackedPaths(t *testing.T) {
	w, dir := newTestWatcher(t, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not markdown"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".portals"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".portals", "metadata.json"), []byte("{}"), 0o644))

	select {
	case event := <-w.Events():
		t.Fatalf("expected no events for untracked paths, got %+v", event)
	case <-time.After(time.Second):
	}

	// tracked paths still work
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.md"), []byte("yes"), 0o644))
	event := waitForEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, "tracked.md", event.Path)
}

func TestWatcherKindMapping(t *testing.T) {
	w, dir := newTestWatcher(t, 50*time.Millisecond)
	path := filepath.Join(dir, "lifecycle.md")

	require.NoError(t, os.WriteFile(path, []byte("born"), 0o644))
	created := waitForEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, ChangeCreated, created.Kind)

	require.NoError(t, os.Remove(path))
	deleted := waitForEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, ChangeDeleted, deleted.Kind)
}
