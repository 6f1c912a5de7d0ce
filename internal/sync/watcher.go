package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	ignoreOnceGrace       = time.Second
	ignoreCleanupInterval = 15 * time.Second
	rawEventBufferSize    = 64
	eventBufferSize       = 64
)

// FileWatcher watches the tracked root recursively and turns bursty
// filesystem notifications into coalesced ChangeEvents. A burst of writes to
// one path yields exactly one event after the debounce window settles.
// IgnoreOnce suppresses the echo of our own pull writes.
type FileWatcher struct {
	root     string
	ignores  *IgnoreList
	debounce time.Duration

	rawEvents chan notify.EventInfo
	events    chan ChangeEvent

	ignoreOnce map[string]time.Time
	ignoreMu   gosync.Mutex

	pending map[string]ChangeEvent
	timers  map[string]*time.Timer
	closed  bool
	mu      gosync.Mutex

	done chan struct{}
	wg   gosync.WaitGroup
}

func NewFileWatcher(root string, ignores *IgnoreList, debounce time.Duration) *FileWatcher {
	return &FileWatcher{
		root:       root,
		ignores:    ignores,
		debounce:   debounce,
		ignoreOnce: make(map[string]time.Time),
		pending:    make(map[string]ChangeEvent),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
}

func (w *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.root, "debounce", w.debounce)

	w.rawEvents = make(chan notify.EventInfo, rawEventBufferSize)
	w.events = make(chan ChangeEvent, eventBufferSize)

	recursive := filepath.Join(w.root, "...")
	if err := notify.Watch(recursive, w.rawEvents, notify.Write|notify.Create|notify.Remove|notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	w.wg.Add(1)
	go w.cleanupIgnoreOnce(ctx)

	return nil
}

func (w *FileWatcher) Stop() {
	slog.Info("file watcher stopping")

	close(w.done)
	if w.rawEvents != nil {
		// notify never closes the raw channel; the filter loop exits via done
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	slog.Info("file watcher stopped")
}

func (w *FileWatcher) Events() <-chan ChangeEvent {
	return w.events
}

// IgnoreOnce suppresses the next event for a relative path. Used right before
// the engine writes a pulled document so the watcher does not bounce our own
// write back as a local change. The entry must outlive the debounce window,
// since it is consumed when the event flushes, not when it arrives.
func (w *FileWatcher) IgnoreOnce(relPath string) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignoreOnce[relPath] = time.Now().Add(w.debounce + ignoreOnceGrace)
}

func (w *FileWatcher) consumeIgnoreOnce(relPath string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, ok := w.ignoreOnce[relPath]
	if !ok {
		return false
	}
	delete(w.ignoreOnce, relPath)
	return time.Now().Before(expiry)
}

func (w *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		// stop pending timers and flush whatever already settled; closed is
		// set under mu so a late timer callback can never reach the channel
		// after it is closed
		w.mu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			if event, ok := w.pending[path]; ok {
				select {
				case w.events <- event:
				default:
					slog.Warn("file watcher dropping pending event on exit", "path", path)
				}
			}
			delete(w.pending, path)
			delete(w.timers, path)
		}
		w.closed = true
		w.mu.Unlock()

		close(w.events)
		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case raw, ok := <-w.rawEvents:
			if !ok {
				return
			}

			relPath, err := filepath.Rel(w.root, raw.Path())
			if err != nil || strings.HasPrefix(relPath, "..") {
				continue
			}
			relPath = filepath.ToSlash(relPath)

			if !w.ignores.Tracked(relPath) {
				continue
			}

			w.debounceEvent(relPath, eventKind(raw.Event()))
		}
	}
}

// debounceEvent resets the per-path timer. Inotify fires a burst of WRITE
// events while a file is being written; only one event per path survives the
// window.
func (w *FileWatcher) debounceEvent(relPath string, kind ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[relPath]; ok {
		timer.Stop()
		delete(w.timers, relPath)
	}

	if prev, ok := w.pending[relPath]; ok {
		kind = mergeKind(prev.Kind, kind)
	}
	w.pending[relPath] = ChangeEvent{
		Path:       relPath,
		Origin:     OriginLocal,
		Kind:       kind,
		DetectedAt: time.Now(),
	}

	w.timers[relPath] = time.AfterFunc(w.debounce, func() {
		w.flushEvent(relPath)
	})
}

// flushEvent runs on a timer goroutine. The send happens under mu so it can
// never race the shutdown close of the events channel.
func (w *FileWatcher) flushEvent(relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	event, ok := w.pending[relPath]
	if !ok {
		return
	}
	delete(w.pending, relPath)
	delete(w.timers, relPath)

	// checked at flush time so a pull write during the debounce window is
	// still suppressed
	if w.consumeIgnoreOnce(relPath) {
		slog.Debug("file watcher suppressed own write", "path", relPath)
		return
	}

	select {
	case w.events <- event:
		slog.Debug("file watcher", "kind", event.Kind, "path", relPath)
	default:
		slog.Warn("file watcher event buffer full, dropping", "path", relPath)
	}
}

func (w *FileWatcher) cleanupIgnoreOnce(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(ignoreCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignoreOnce {
				if now.After(expiry) {
					delete(w.ignoreOnce, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}

// mergeKind coalesces two kinds within one debounce window. A delete always
// wins; the write burst right after a create stays a create.
func mergeKind(prev, next ChangeKind) ChangeKind {
	if next == ChangeDeleted {
		return ChangeDeleted
	}
	if prev == ChangeCreated {
		return ChangeCreated
	}
	return next
}

func eventKind(e notify.Event) ChangeKind {
	switch {
	case e&notify.Create != 0:
		return ChangeCreated
	case e&(notify.Remove|notify.Rename) != 0:
		return ChangeDeleted
	default:
		return ChangeModified
	}
}
