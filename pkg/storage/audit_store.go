package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one routed panel interaction.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	PanelID    string    `json:"panelId"`
	ActionKind string    `json:"actionKind"`
	ActionID   string    `json:"actionId"`
	GuildID    string    `json:"guildId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Outcome    string    `json:"outcome"`
	Deferred   bool      `json:"deferred"`
	DurationMS int64     `json:"durationMs"`
}

// Recorder accepts audit entries. The router depends on this, not on the
// concrete store.
type Recorder interface {
	Record(e Entry) error
}

// AuditStore wraps an embedded SQLite database holding the interaction audit
// trail. It uses modernc.org/sqlite for CGO-less builds.
type AuditStore struct {
	dbPath string
	db     *sql.DB
}

// NewAuditStore creates an AuditStore pointing to dbPath. Call Init() before
// using it.
func NewAuditStore(dbPath string) *AuditStore {
	return &AuditStore{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema
// exists.
func (s *AuditStore) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *AuditStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one interaction to the audit trail.
func (s *AuditStore) Record(e Entry) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO interactions (ts, panel_id, action_kind, action_id, guild_id, user_id, outcome, deferred, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(), e.PanelID, e.ActionKind, e.ActionID, e.GuildID, e.UserID, e.Outcome, e.Deferred, e.DurationMS,
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (s *AuditStore) Recent(limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, panel_id, action_kind, action_id, guild_id, user_id, outcome, deferred, duration_ms
         FROM interactions ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Timestamp, &e.PanelID, &e.ActionKind, &e.ActionID,
			&e.GuildID, &e.UserID, &e.Outcome, &e.Deferred, &e.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutcomeCounts aggregates the trail by outcome.
func (s *AuditStore) OutcomeCounts() (map[string]int, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM interactions GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// CleanupOlderThan trims entries past the retention horizon.
func (s *AuditStore) CleanupOlderThan(cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	res, err := s.db.Exec(`DELETE FROM interactions WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ensureSchema(db *sql.DB) error {
	const createInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  ts          TIMESTAMP NOT NULL,
  panel_id    TEXT NOT NULL,
  action_kind TEXT NOT NULL,
  action_id   TEXT NOT NULL,
  guild_id    TEXT,
  user_id     TEXT,
  outcome     TEXT NOT NULL,
  deferred    BOOLEAN NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_interactions_ts ON interactions(ts);
CREATE INDEX IF NOT EXISTS idx_interactions_panel ON interactions(panel_id);`

	if _, err := db.Exec(createInteractions); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
