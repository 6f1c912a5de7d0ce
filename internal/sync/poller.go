package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	pollFetchLimit   = 4
	pollFetchTimeout = 10 * time.Second
)

// AdapterResolver finds the adapter for a pair's platform.
type AdapterResolver func(platform string) (adapter.Adapter, error)

// RemotePoller detects remote-side edits by fetching lightweight metadata for
// every tracked remote id on a fixed interval and diffing the fingerprint
// against the persisted snapshot. A fingerprint change emits one modified
// ChangeEvent and advances the snapshot; fetch failures are logged and simply
// retried next tick. Archived remote nodes are skipped.
type RemotePoller struct {
	metaStore *store.MetadataStore
	snapshot  *store.PollSnapshot
	resolve   AdapterResolver
	interval  time.Duration
	readOnly  bool

	events chan ChangeEvent
}

type PollerOption func(*RemotePoller)

// WithSnapshotReadOnly keeps the poll snapshot untouched. Dry run sessions
// use it so a remote change observed there is detected again by the next
// real session.
func WithSnapshotReadOnly() PollerOption {
	return func(p *RemotePoller) { p.readOnly = true }
}

func NewRemotePoller(metaStore *store.MetadataStore, snapshot *store.PollSnapshot, resolve AdapterResolver, interval time.Duration, opts ...PollerOption) *RemotePoller {
	p := &RemotePoller{
		metaStore: metaStore,
		snapshot:  snapshot,
		resolve:   resolve,
		interval:  interval,
		events:    make(chan ChangeEvent, eventBufferSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RemotePoller) Events() <-chan ChangeEvent {
	return p.events
}

// Run polls until the context is cancelled. The first poll happens after one
// full interval so session startup stays cheap.
func (p *RemotePoller) Run(ctx context.Context) error {
	slog.Info("remote poller start", "interval", p.interval)
	defer close(p.events)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("remote poller stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single polling pass over all pairs. A slow or failing pair
// never blocks the others: fetches run concurrently with a bounded limit and
// a per-call timeout, and each failure is contained to its own pair.
func (p *RemotePoller) PollOnce(ctx context.Context) {
	pairs, err := p.metaStore.ListPairs()
	if err != nil {
		slog.Error("poll: loading pairs failed", "error", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollFetchLimit)
	for _, pair := range pairs {
		g.Go(func() error {
			p.pollPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *RemotePoller) pollPair(ctx context.Context, pair *core.SyncPair) {
	remote, err := p.resolve(pair.Platform)
	if err != nil {
		slog.Warn("poll: no adapter for pair", "path", pair.LocalPath, "platform", pair.Platform, "error", err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, pollFetchTimeout)
	defer cancel()

	meta, err := remote.GetMetadata(fetchCtx, pair.RemoteID)
	if err != nil {
		// retried next tick
		slog.Warn("poll: metadata fetch failed", "path", pair.LocalPath, "remoteID", pair.RemoteID, "error", err)
		return
	}
	if meta.Archived {
		slog.Debug("poll: skipping archived remote", "path", pair.LocalPath, "remoteID", pair.RemoteID)
		return
	}

	last, err := p.snapshot.Get(pair.RemoteID)
	if err != nil {
		slog.Error("poll: snapshot read failed", "remoteID", pair.RemoteID, "error", err)
		return
	}
	if last != nil && last.Fingerprint == meta.Fingerprint {
		return
	}

	if !p.readOnly {
		if err := p.snapshot.Set(pair.RemoteID, meta.Fingerprint, meta.ModifiedAt); err != nil {
			slog.Error("poll: snapshot write failed", "remoteID", pair.RemoteID, "error", err)
			return
		}
	}

	event := ChangeEvent{
		Path:       pair.LocalPath,
		RemoteID:   pair.RemoteID,
		Origin:     OriginRemote,
		Kind:       ChangeModified,
		DetectedAt: time.Now(),
	}
	select {
	case p.events <- event:
		slog.Debug("remote change detected", "path", pair.LocalPath, "remoteID", pair.RemoteID)
	case <-ctx.Done():
	}
}
