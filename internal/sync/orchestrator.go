package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/openmined/portals/internal/config"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	"golang.org/x/sync/errgroup"
)

// OrchestratorState is the watch session lifecycle state.
type OrchestratorState string

const (
	StateIdle            OrchestratorState = "idle"
	StateWatching        OrchestratorState = "watching"
	StateClassifying     OrchestratorState = "classifying"
	StateAutoSyncing     OrchestratorState = "auto_syncing"
	StatePrompting       OrchestratorState = "prompting"
	StateConflictPending OrchestratorState = "conflict_pending"
	StateStopped         OrchestratorState = "stopped"
)

// PromptAnswer is the discrete decision set in prompt mode, drivable
// identically by a human or a test harness.
type PromptAnswer string

const (
	AnswerYes    PromptAnswer = "yes"
	AnswerNo     PromptAnswer = "no"
	AnswerAlways PromptAnswer = "always"
	AnswerQuit   PromptAnswer = "quit"
)

// Prompter is asked before acting in prompt mode.
type Prompter interface {
	Ask(event ChangeEvent, decision core.SyncDecision) (PromptAnswer, error)
}

// ConflictHandler is notified whenever a sync classifies as conflict. It runs
// on a worker goroutine.
type ConflictHandler func(pair *core.SyncPair, decision core.SyncDecision)

const (
	maxConcurrentSyncs = 4
	drainGrace         = 30 * time.Second
)

// Orchestrator runs a watch session: a single consumer loop over the merged
// event stream from the file watcher and the remote poller. Long transfers go
// to a bounded worker pool and never block the loop; events for a pair with a
// sync already in flight are queued and reclassified afterwards, preserving
// per-pair ordering.
type Orchestrator struct {
	cfg       config.Config
	metaStore *store.MetadataStore
	engine    *Engine
	watcher   *FileWatcher
	poller    *RemotePoller

	prompter   Prompter
	onConflict ConflictHandler
	onDecision func(ChangeEvent, core.SyncDecision) // dry_run reporting

	mode    config.Mode
	state   OrchestratorState
	stateMu gosync.Mutex

	requeue chan ChangeEvent
	busy    map[string]bool
	queued  map[string]ChangeEvent
	busyMu  gosync.Mutex
}

type OrchestratorOption func(*Orchestrator)

func WithPrompter(p Prompter) OrchestratorOption {
	return func(o *Orchestrator) { o.prompter = p }
}

func WithConflictHandler(h ConflictHandler) OrchestratorOption {
	return func(o *Orchestrator) { o.onConflict = h }
}

// WithDecisionReporter receives every classified decision in dry_run mode.
func WithDecisionReporter(fn func(ChangeEvent, core.SyncDecision)) OrchestratorOption {
	return func(o *Orchestrator) { o.onDecision = fn }
}

func NewOrchestrator(cfg config.Config, metaStore *store.MetadataStore, engine *Engine, watcher *FileWatcher, poller *RemotePoller, opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		metaStore: metaStore,
		engine:    engine,
		watcher:   watcher,
		poller:    poller,
		mode:      cfg.Mode,
		state:     StateIdle,
		requeue:   make(chan ChangeEvent, eventBufferSize),
		busy:      map[string]bool{},
		queued:    map[string]ChangeEvent{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.mode == config.ModePrompt && o.prompter == nil {
		return nil, &core.ConfigError{Key: "mode", Reason: "prompt mode requires a prompter"}
	}
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() OrchestratorState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s OrchestratorState) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// Run blocks until the context is cancelled or the prompter answers quit.
// On stop no new events are accepted; in-flight transfers drain within a
// grace window before the loop exits.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer o.watcher.Stop()

	var producers errgroup.Group
	producers.Go(func() error { return o.poller.Run(ctx) })

	workers := &errgroup.Group{}
	workers.SetLimit(maxConcurrentSyncs)

	o.setState(StateWatching)
	slog.Info("watch session started", "mode", o.mode)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case event, ok := <-o.watcher.Events():
			if !ok {
				break loop
			}
			o.handleEvent(ctx, cancel, workers, event)
		case event, ok := <-o.poller.Events():
			if !ok {
				break loop
			}
			o.handleEvent(ctx, cancel, workers, event)
		case event := <-o.requeue:
			o.handleEvent(ctx, cancel, workers, event)
		}
	}

	o.drain(workers)
	_ = producers.Wait()

	o.setState(StateStopped)
	slog.Info("watch session stopped")
	return nil
}

func (o *Orchestrator) drain(workers *errgroup.Group) {
	done := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		slog.Warn("drain grace expired with transfers still in flight")
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, cancel context.CancelFunc, workers *errgroup.Group, event ChangeEvent) {
	pair := o.lookupPair(event)
	if pair == nil {
		slog.Debug("change on untracked path, ignoring", "path", event.Path, "origin", event.Origin)
		return
	}

	o.busyMu.Lock()
	if o.busy[pair.ID] {
		// latest event wins, it reclassifies from current content anyway
		o.queued[pair.ID] = event
		o.busyMu.Unlock()
		return
	}
	o.busyMu.Unlock()

	o.setState(StateClassifying)
	defer o.setState(StateWatching)

	switch o.mode {
	case config.ModeDryRun:
		o.dispatchPreview(ctx, workers, pair, event)

	case config.ModePrompt:
		decision, err := o.engine.Preview(ctx, pair)
		if err != nil {
			slog.Error("classify failed", "path", pair.LocalPath, "error", err)
			return
		}
		if decision.Status == core.NoChange {
			return
		}

		o.setState(StatePrompting)
		answer, err := o.prompter.Ask(event, decision)
		if err != nil {
			slog.Error("prompt failed", "path", pair.LocalPath, "error", err)
			return
		}
		switch answer {
		case AnswerQuit:
			cancel()
			return
		case AnswerNo:
			slog.Info("skipped by user", "path", pair.LocalPath, "decision", decision.Status)
			return
		case AnswerAlways:
			slog.Info("switching to auto mode for the rest of the session")
			o.mode = config.ModeAuto
			fallthrough
		case AnswerYes:
			o.dispatchSync(ctx, workers, pair)
		}

	default: // auto
		o.dispatchSync(ctx, workers, pair)
	}
}

// lookupPair maps an event to its pair, by remote id for remote events and by
// relative path for local ones.
func (o *Orchestrator) lookupPair(event ChangeEvent) *core.SyncPair {
	state, err := o.metaStore.Load()
	if err != nil {
		slog.Error("loading state failed", "error", err)
		return nil
	}
	if event.Origin == OriginRemote && event.RemoteID != "" {
		return state.PairByRemoteID(event.RemoteID)
	}
	return state.PairByLocalPath(event.Path)
}

func (o *Orchestrator) dispatchPreview(ctx context.Context, workers *errgroup.Group, pair *core.SyncPair, event ChangeEvent) {
	workers.Go(func() error {
		decision, err := o.engine.Preview(ctx, pair)
		if err != nil {
			slog.Error("dry run classify failed", "path", pair.LocalPath, "error", err)
			return nil
		}
		slog.Info("dry run", "path", pair.LocalPath, "decision", decision.Status, "reason", decision.Reason)
		if o.onDecision != nil {
			o.onDecision(event, decision)
		}
		return nil
	})
}

func (o *Orchestrator) dispatchSync(ctx context.Context, workers *errgroup.Group, pair *core.SyncPair) {
	o.busyMu.Lock()
	o.busy[pair.ID] = true
	o.busyMu.Unlock()

	o.setState(StateAutoSyncing)
	workers.Go(func() error {
		defer o.finishPair(pair.ID)

		result, err := o.engine.Sync(ctx, pair)
		if err != nil {
			if errors.Is(err, core.ErrSyncInFlight) {
				return nil
			}
			slog.Error("sync failed", "path", pair.LocalPath, "error", err)
			return nil
		}

		if result.Decision.Status == core.Conflict {
			// never resolved silently, always surfaced
			o.setState(StateConflictPending)
			if o.onConflict != nil {
				o.onConflict(pair, result.Decision)
			}
		}
		return nil
	})
}

// finishPair clears the in-flight mark and requeues the event that arrived
// while the pair was syncing, if any.
func (o *Orchestrator) finishPair(pairID string) {
	o.busyMu.Lock()
	delete(o.busy, pairID)
	event, hasQueued := o.queued[pairID]
	if hasQueued {
		delete(o.queued, pairID)
	}
	o.busyMu.Unlock()

	if hasQueued {
		select {
		case o.requeue <- event:
		default:
			slog.Warn("requeue channel full, dropping event", "path", event.Path)
		}
	}
}
