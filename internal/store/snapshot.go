package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/portals/internal/db"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS poll_snapshot (
    remote_id   TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    modified_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_snapshot_fingerprint ON poll_snapshot(fingerprint);
`

// SnapshotEntry is the last-seen remote fingerprint for one remote id.
type SnapshotEntry struct {
	RemoteID    string
	Fingerprint string
	ModifiedAt  time.Time
}

// dbSnapshotEntry mirrors SnapshotEntry with the timestamp stored as TEXT.
type dbSnapshotEntry struct {
	RemoteID    string `db:"remote_id"`
	Fingerprint string `db:"fingerprint"`
	ModifiedAt  string `db:"modified_at"`
}

// PollSnapshot records what the remote poller saw last, backed by SQLite so
// a restarted session diffs against the previous run instead of treating
// every document as freshly changed.
type PollSnapshot struct {
	db     *sqlx.DB
	dbPath string
}

func NewPollSnapshot(dbPath string) *PollSnapshot {
	return &PollSnapshot{dbPath: dbPath}
}

// Open the snapshot and the underlying database.
func (p *PollSnapshot) Open() error {
	if p.db != nil {
		return fmt.Errorf("poll snapshot already open")
	}

	database, err := db.NewSqliteDB(db.WithPath(p.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open poll snapshot: %w", err)
	}

	if _, err := database.Exec(snapshotSchema); err != nil {
		database.Close()
		return fmt.Errorf("initialize snapshot schema: %w", err)
	}

	p.db = database
	return nil
}

func (p *PollSnapshot) Close() error {
	if p.db == nil {
		return fmt.Errorf("poll snapshot not open")
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	p.db = nil
	slog.Debug("poll snapshot closed")
	return nil
}

// Get returns the entry for a remote id, or nil if never seen.
func (p *PollSnapshot) Get(remoteID string) (*SnapshotEntry, error) {
	var row dbSnapshotEntry
	err := p.db.Get(&row, "SELECT remote_id, fingerprint, modified_at FROM poll_snapshot WHERE remote_id = ?", remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query snapshot for %s: %w", remoteID, err)
	}
	return row.toEntry()
}

// Set inserts or updates the entry for a remote id.
func (p *PollSnapshot) Set(remoteID, fingerprint string, modifiedAt time.Time) error {
	row := dbSnapshotEntry{
		RemoteID:    remoteID,
		Fingerprint: fingerprint,
		ModifiedAt:  modifiedAt.UTC().Format(time.RFC3339Nano),
	}
	query := `INSERT OR REPLACE INTO poll_snapshot (remote_id, fingerprint, modified_at)
	          VALUES (:remote_id, :fingerprint, :modified_at)`
	if _, err := p.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("set snapshot for %s: %w", remoteID, err)
	}
	return nil
}

// Delete removes the entry for a remote id, e.g. when a pair is unpaired or
// its remote node was archived.
func (p *PollSnapshot) Delete(remoteID string) error {
	if _, err := p.db.Exec("DELETE FROM poll_snapshot WHERE remote_id = ?", remoteID); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", remoteID, err)
	}
	return nil
}

// All returns every recorded entry keyed by remote id.
func (p *PollSnapshot) All() (map[string]*SnapshotEntry, error) {
	var rows []dbSnapshotEntry
	if err := p.db.Select(&rows, "SELECT remote_id, fingerprint, modified_at FROM poll_snapshot"); err != nil {
		return nil, fmt.Errorf("query snapshot entries: %w", err)
	}

	entries := make(map[string]*SnapshotEntry, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			slog.Error("skipping snapshot row with bad timestamp", "remoteID", row.RemoteID, "value", row.ModifiedAt)
			continue
		}
		entries[row.RemoteID] = entry
	}
	return entries, nil
}

func (r dbSnapshotEntry) toEntry() (*SnapshotEntry, error) {
	modTime, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp for %s: %w", r.RemoteID, err)
	}
	return &SnapshotEntry{
		RemoteID:    r.RemoteID,
		Fingerprint: r.Fingerprint,
		ModifiedAt:  modTime,
	}, nil
}
