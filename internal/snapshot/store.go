package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store keeps one snapshot row per user in a local SQLite database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (and if needed creates) the snapshot database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			user_id  TEXT PRIMARY KEY,
			version  INTEGER NOT NULL,
			payload  TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

// Save writes the user's snapshot, replacing any previous one.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap.UserID == "" {
		return errors.New("snapshot has no user id")
	}
	snap.Version = Version
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (user_id, version, payload, saved_at)
		VALUES (?, ?, ?, ?)
	`, snap.UserID, snap.Version, string(payload), snap.SavedAt)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the user's snapshot. A missing row, a version mismatch, or
// an unparsable payload all yield (nil, false, nil): the stale or foreign
// row is deleted rather than partially interpreted.
func (s *Store) Load(ctx context.Context, userID string) (*Snapshot, bool, error) {
	var (
		version int
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM snapshots WHERE user_id = ?`, userID,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	if version != Version {
		s.log.Warn("discarding snapshot with mismatched version",
			"user", userID, "stored", version, "expected", Version)
		if err := s.Clear(ctx, userID); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		s.log.Warn("discarding unparsable snapshot", "user", userID, "error", err)
		if err := s.Clear(ctx, userID); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return &snap, true, nil
}

// Clear removes the user's snapshot row.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
