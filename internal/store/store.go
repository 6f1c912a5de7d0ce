// Package store owns the durable sync state: the metadata file holding every
// tracked pair and the hierarchy mapping, and the sqlite snapshot the remote
// poller diffs against.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/utils"
)

const (
	// MetadataDirName is the dot-directory holding all portals state under
	// the tracked root. The watcher excludes it.
	MetadataDirName = ".portals"

	metadataFileName = "metadata.json"
	lockFileName     = "portals.lock"
	snapshotFileName = "snapshot.db"

	stateVersion = "1"
)

// HierarchyRecord maps one local directory to its remote container and the
// names of its children.
type HierarchyRecord struct {
	RemoteID string   `json:"remote_id"`
	Children []string `json:"children,omitempty"`
	Archived bool     `json:"archived,omitempty"`
}

// State is everything persisted in the metadata file. Pairs and hierarchy
// are saved and loaded as a unit.
type State struct {
	Version   string                      `json:"version"`
	Pairs     map[string]*core.SyncPair   `json:"pairs"`
	Hierarchy map[string]*HierarchyRecord `json:"hierarchy"`
	Config    map[string]any              `json:"config"`
}

func newState() *State {
	return &State{
		Version:   stateVersion,
		Pairs:     map[string]*core.SyncPair{},
		Hierarchy: map[string]*HierarchyRecord{},
		Config:    map[string]any{},
	}
}

// PairByLocalPath finds the pair tracking a local relative path.
func (s *State) PairByLocalPath(localPath string) *core.SyncPair {
	for _, p := range s.Pairs {
		if p.LocalPath == localPath {
			return p
		}
	}
	return nil
}

// PairByRemoteID finds the pair tracking a remote locator.
func (s *State) PairByRemoteID(remoteID string) *core.SyncPair {
	for _, p := range s.Pairs {
		if p.RemoteID == remoteID {
			return p
		}
	}
	return nil
}

// MetadataStore persists State with atomic writes. Writes are serialized by
// an internal mutex; cross-process exclusion uses a flock held for the
// session. Concurrent writers are not supported by design.
type MetadataStore struct {
	baseDir  string
	dir      string
	filePath string
	fileLock *flock.Flock
	mu       sync.Mutex
}

func NewMetadataStore(baseDir string) *MetadataStore {
	dir := filepath.Join(baseDir, MetadataDirName)
	return &MetadataStore{
		baseDir:  baseDir,
		dir:      dir,
		filePath: filepath.Join(dir, metadataFileName),
		fileLock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// Dir returns the metadata directory path.
func (m *MetadataStore) Dir() string { return m.dir }

// SnapshotPath returns the path of the poller snapshot database.
func (m *MetadataStore) SnapshotPath() string {
	return filepath.Join(m.dir, snapshotFileName)
}

// Exists reports whether the store has been initialized.
func (m *MetadataStore) Exists() bool {
	return utils.FileExists(m.filePath)
}

// Init creates the metadata directory and an empty state file if missing.
func (m *MetadataStore) Init() error {
	if err := utils.EnsureDir(m.dir); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	if m.Exists() {
		return nil
	}
	return m.Save(newState())
}

// Acquire takes the session lock. A second portals process on the same tree
// fails here instead of corrupting state.
func (m *MetadataStore) Acquire() error {
	if err := utils.EnsureDir(m.dir); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	ok, err := m.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("store is locked by another portals process")
	}
	return nil
}

// Release drops the session lock.
func (m *MetadataStore) Release() error {
	return m.fileLock.Unlock()
}

// Load reads and validates the state file. A structurally invalid file is a
// CorruptStateError: fatal, never auto-repaired.
func (m *MetadataStore) Load() (*State, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &core.CorruptStateError{Path: m.filePath, Reason: err.Error()}
	}
	if err := validateState(&state); err != nil {
		return nil, &core.CorruptStateError{Path: m.filePath, Reason: err.Error()}
	}

	if state.Pairs == nil {
		state.Pairs = map[string]*core.SyncPair{}
	}
	if state.Hierarchy == nil {
		state.Hierarchy = map[string]*HierarchyRecord{}
	}
	if state.Config == nil {
		state.Config = map[string]any{}
	}

	return &state, nil
}

// Save writes the state atomically: serialize to a temp file in the metadata
// dir, then rename into place. Readers observe old or new, never a mix.
func (m *MetadataStore) Save(state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(state)
}

func (m *MetadataStore) saveLocked(state *State) error {
	if state.Version == "" {
		state.Version = stateVersion
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := utils.WriteFileAtomic(m.filePath, data, 0o644); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// Mutate performs one serialized read-modify-write transaction.
func (m *MetadataStore) Mutate(fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.Load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return m.saveLocked(state)
}

// AddPair inserts or replaces a pair.
func (m *MetadataStore) AddPair(pair *core.SyncPair) error {
	return m.Mutate(func(s *State) error {
		s.Pairs[pair.ID] = pair
		return nil
	})
}

// RemovePair drops a pair by id.
func (m *MetadataStore) RemovePair(pairID string) error {
	return m.Mutate(func(s *State) error {
		if _, ok := s.Pairs[pairID]; !ok {
			return fmt.Errorf("pair not found: %s", pairID)
		}
		delete(s.Pairs, pairID)
		return nil
	})
}

// UpdatePairState replaces the state of one pair.
func (m *MetadataStore) UpdatePairState(pairID string, state *core.SyncPairState) error {
	return m.Mutate(func(s *State) error {
		pair, ok := s.Pairs[pairID]
		if !ok {
			return fmt.Errorf("pair not found: %s", pairID)
		}
		pair.State = state
		return nil
	})
}

// ListPairs returns all pairs sorted by local path.
func (m *MetadataStore) ListPairs() ([]*core.SyncPair, error) {
	state, err := m.Load()
	if err != nil {
		return nil, err
	}
	pairs := make([]*core.SyncPair, 0, len(state.Pairs))
	for _, p := range state.Pairs {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)
	return pairs, nil
}

// GetConfig returns a config value or nil.
func (m *MetadataStore) GetConfig(key string) (any, error) {
	state, err := m.Load()
	if err != nil {
		return nil, err
	}
	return state.Config[key], nil
}

// SetConfig stores a config value.
func (m *MetadataStore) SetConfig(key string, value any) error {
	return m.Mutate(func(s *State) error {
		s.Config[key] = value
		return nil
	})
}

func sortPairs(pairs []*core.SyncPair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].LocalPath < pairs[j].LocalPath
	})
}

func validateState(s *State) error {
	for id, p := range s.Pairs {
		if p == nil {
			return fmt.Errorf("pair %s is null", id)
		}
		if p.ID == "" || p.LocalPath == "" || p.RemoteID == "" {
			return fmt.Errorf("pair %s is missing identity fields", id)
		}
		if p.ID != id {
			return fmt.Errorf("pair key %s does not match id %s", id, p.ID)
		}
	}
	for path, rec := range s.Hierarchy {
		if rec == nil {
			return fmt.Errorf("hierarchy record %s is null", path)
		}
		if rec.RemoteID == "" {
			return fmt.Errorf("hierarchy record %s has no remote id", path)
		}
	}
	return nil
}
