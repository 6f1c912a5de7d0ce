package core

import (
	"time"

	"github.com/google/uuid"
)

// SyncPairState is the mutable three-way-merge state of a pair. BaseHash is
// the merge ancestor: it advances only on a fully successful push, pull or
// conflict resolution, never speculatively.
type SyncPairState struct {
	LocalHash   string    `json:"local_hash"`
	RemoteHash  string    `json:"remote_hash"`
	BaseHash    string    `json:"base_hash"`
	LastSync    time.Time `json:"last_sync"`
	HasConflict bool      `json:"has_conflict"`
	LastError   string    `json:"last_error,omitempty"`
}

// SyncPair binds one local path to one remote locator on one platform.
type SyncPair struct {
	ID        string         `json:"id"`
	LocalPath string         `json:"local_path"`
	RemoteID  string         `json:"remote_id"`
	Platform  string         `json:"platform"`
	CreatedAt time.Time      `json:"created_at"`
	State     *SyncPairState `json:"state,omitempty"`
}

// NewSyncPair creates an unsynced pair with a fresh identity.
func NewSyncPair(localPath, remoteID, platform string) *SyncPair {
	return &SyncPair{
		ID:        uuid.NewString(),
		LocalPath: localPath,
		RemoteID:  remoteID,
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
	}
}

// BaseHash returns the last-synced fingerprint, or the empty hash for a pair
// that has never completed a sync.
func (p *SyncPair) BaseHash() string {
	if p.State == nil {
		return ""
	}
	return p.State.BaseHash
}
