// Package archive is the SQLite-backed session archive: one row per
// session run, one row per archived digest. The next session's sunrise
// brief is retrieved from the most recent digest for a CI.
package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/memory"
)

// schema is idempotent so opening an existing archive is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL UNIQUE,
	base_branch TEXT NOT NULL,
	feature_branch TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS digests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ci_name TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	sunrise_brief TEXT NOT NULL DEFAULT '',
	archived_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_digests_ci ON digests(ci_name, archived_at);
`

// SessionRecord is one archived session run.
type SessionRecord struct {
	SessionID     string
	BaseBranch    string
	FeatureBranch string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Store is the archive handle. Single-owner; not safe for concurrent use
// across sessions without external synchronization.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the archive at path, creating parent directories
// and the schema as needed.
func Open(path string) (*Store, error) {
	const op = "archive.Open"

	if path == "" {
		return nil, fault.New(fault.NullArg, op, "archive path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fault.Wrap(fault.Corrupt, op, err)
	}

	log.Debug(log.CatArchive, "Archive opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RecordSession inserts a session row at session start.
func (s *Store) RecordSession(sessionID, baseBranch, featureBranch string, startedAt time.Time) error {
	const op = "archive.RecordSession"

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, base_branch, feature_branch, started_at)
		 VALUES (?, ?, ?, ?)`,
		sessionID, baseBranch, featureBranch, startedAt.UTC(),
	)
	if err != nil {
		return fault.Wrap(fault.File, op, fmt.Errorf("insert session: %w", err))
	}
	return nil
}

// CompleteSession stamps a session's completion time.
func (s *Store) CompleteSession(sessionID string, completedAt time.Time) error {
	const op = "archive.CompleteSession"

	res, err := s.db.Exec(
		`UPDATE sessions SET completed_at = ? WHERE session_id = ?`,
		completedAt.UTC(), sessionID,
	)
	if err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	if n == 0 {
		return fault.Errorf(fault.InvalidValue, op, "unknown session %q", sessionID)
	}
	return nil
}

// FindSession retrieves one archived session by id.
func (s *Store) FindSession(sessionID string) (*SessionRecord, error) {
	const op = "archive.FindSession"

	row := s.db.QueryRow(
		`SELECT session_id, base_branch, feature_branch, started_at, completed_at
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	)

	var rec SessionRecord
	var completed sql.NullTime
	err := row.Scan(&rec.SessionID, &rec.BaseBranch, &rec.FeatureBranch, &rec.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Errorf(fault.InvalidValue, op, "unknown session %q", sessionID)
	}
	if err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}
	if completed.Valid {
		rec.CompletedAt = completed.Time
	}
	return &rec, nil
}

// Sessions lists archived sessions, most recent first.
func (s *Store) Sessions(limit int) ([]SessionRecord, error) {
	const op = "archive.Sessions"

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session_id, base_branch, feature_branch, started_at, completed_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var completed sql.NullTime
		if err := rows.Scan(&rec.SessionID, &rec.BaseBranch, &rec.FeatureBranch,
			&rec.StartedAt, &completed); err != nil {
			return nil, fault.Wrap(fault.File, op, err)
		}
		if completed.Valid {
			rec.CompletedAt = completed.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ArchiveDigest stores a digest snapshot for a session. Satisfies the
// orchestrator's archiver hook.
func (s *Store) ArchiveDigest(sessionID string, snap memory.Snapshot) error {
	const op = "archive.ArchiveDigest"

	data, err := json.Marshal(snap)
	if err != nil {
		return fault.Wrap(fault.Format, op, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO digests (session_id, ci_name, snapshot, sunrise_brief, archived_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, snap.CIName, string(data), snap.Sunrise, time.Now().UTC(),
	)
	if err != nil {
		return fault.Wrap(fault.File, op, fmt.Errorf("insert digest: %w", err))
	}
	log.Debug(log.CatArchive, "Digest archived", "session", sessionID, "ci", snap.CIName)
	return nil
}

// LatestDigest retrieves the most recently archived snapshot for a CI,
// for sunrise in the next session.
func (s *Store) LatestDigest(ciName string) (memory.Snapshot, error) {
	const op = "archive.LatestDigest"

	row := s.db.QueryRow(
		`SELECT snapshot FROM digests WHERE ci_name = ?
		 ORDER BY archived_at DESC, id DESC LIMIT 1`,
		ciName,
	)

	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Snapshot{}, fault.Errorf(fault.InvalidValue, op, "no archived digest for %q", ciName)
	}
	if err != nil {
		return memory.Snapshot{}, fault.Wrap(fault.File, op, err)
	}
	return memory.FromJSON([]byte(data))
}

// SunriseBrief returns the latest archived sunrise brief for a CI, or ""
// when nothing is archived.
func (s *Store) SunriseBrief(ciName string) string {
	row := s.db.QueryRow(
		`SELECT sunrise_brief FROM digests WHERE ci_name = ?
		 ORDER BY archived_at DESC, id DESC LIMIT 1`,
		ciName,
	)
	var brief string
	if err := row.Scan(&brief); err != nil {
		return ""
	}
	return brief
}
