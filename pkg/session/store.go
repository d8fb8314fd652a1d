// Package session persists per-session conversation history in SQLite.
//
// One row per session id. Reads initialize a missing session with an
// empty history; writes replace the whole serialized history and are
// best-effort from the caller's point of view.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/minder/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists session histories
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StoreConfig holds session store configuration
type StoreConfig struct {
	DBPath string
	Logger zerolog.Logger
}

// NewStore opens (or creates) the session database.
func NewStore(cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			history_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	s.logger.Info().Str("db", cfg.DBPath).Msg("Session store initialized")
	return s, nil
}

// GetHistory loads a session's history. A session id never seen before is
// initialized with an empty history and returns an empty list, not an
// error. A corrupt stored history also degrades to an empty list.
func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	var historyJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT history_json FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&historyJSON)

	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO sessions (session_id, history_json, updated_at) VALUES (?, ?, ?)",
			sessionID, "[]", time.Now().Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session: %w", err)
		}
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	var history []Message
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Corrupt session history, returning empty")
		return []Message{}, nil
	}
	if history == nil {
		history = []Message{}
	}
	return history, nil
}

// AppendAndStore replaces a session's stored history with the given
// transcript. Persistence is best-effort: failures are logged and
// reported through the boolean, never raised.
func (s *Store) AppendAndStore(ctx context.Context, sessionID string, history []Message) bool {
	if sessionID == "" {
		s.logger.Warn().Msg("Session write skipped, missing session id")
		observability.RecordSessionSave(0, false)
		return false
	}

	start := time.Now()

	historyJSON, err := json.Marshal(history)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to serialize session history")
		observability.RecordSessionSave(time.Since(start), false)
		return false
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (session_id, history_json, updated_at) VALUES (?, ?, ?)",
		sessionID, string(historyJSON), time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to store session history")
		observability.RecordSessionSave(time.Since(start), false)
		return false
	}

	observability.RecordSessionSave(time.Since(start), true)
	s.logger.Debug().Str("session_id", sessionID).Int("turns", len(history)).Msg("Session history stored")
	return true
}

// Prune deletes sessions not updated within the retention window and
// returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE updated_at < ?", cutoff,
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}

// Ping verifies the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Close closes the session store.
func (s *Store) Close() error {
	return s.db.Close()
}
