// Package sync is the heart of portals: change detection on both sides,
// three-way classification, transfer execution and the watch session that
// ties them together.
package sync

import "time"

// Origin tells which side produced a change event.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ChangeKind is what happened to the document.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeCreated  ChangeKind = "created"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent is one detected change. Local events carry a Path relative to
// the tracked root; remote events carry the RemoteID and, when the id is
// already paired, the mapped Path. Duplicates are tolerated downstream, the
// classifier is idempotent.
type ChangeEvent struct {
	Path       string
	RemoteID   string
	Origin     Origin
	Kind       ChangeKind
	DetectedAt time.Time
}
