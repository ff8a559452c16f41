package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	saveRetries   = 3
	saveBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes snapshot writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		goal TEXT NOT NULL,
		status TEXT NOT NULL,
		mode TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		consensus_json TEXT,
		total_messages INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		signal_json TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSession upserts the session row and inserts its messages. Messages
// are append-only, so rows already stored are left untouched.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	attempts, err := shared.RetryOnConflict(ctx, saveRetries, saveBaseDelay, func() error {
		return s.saveSessionOnce(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("save session %s after %d attempts: %w", session.ID, attempts, err)
	}
	if attempts > 1 {
		slog.Debug("SaveSession succeeded after retry", "session_id", session.ID, "attempts", attempts)
	}
	return nil
}

func (s *SQLiteStore) saveSessionOnce(ctx context.Context, session *domain.Session) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	participantsJSON, err := json.Marshal(session.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	var consensusJSON interface{}
	if session.Consensus != nil {
		raw, err := json.Marshal(session.Consensus)
		if err != nil {
			return fmt.Errorf("marshal consensus state: %w", err)
		}
		consensusJSON = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back session save", "session_id", session.ID, "error", rbErr)
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, title, goal, status, mode, participants_json, consensus_json,
			total_messages, created_at, last_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			consensus_json = excluded.consensus_json,
			total_messages = excluded.total_messages,
			last_active = excluded.last_active`,
		session.ID, session.Title, session.Goal, string(session.Status), string(session.Mode),
		string(participantsJSON), consensusJSON, session.Metadata.TotalMessages,
		session.Metadata.CreatedAt.UnixMilli(), session.Metadata.LastActive.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (
			id, session_id, seq, speaker_id, kind, content, signal_json,
			tokens_used, response_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close message statement", "error", closeErr)
		}
	}()

	for seq, msg := range session.Messages {
		var signalJSON interface{}
		if msg.Consensus != nil {
			raw, mErr := json.Marshal(msg.Consensus)
			if mErr != nil {
				err = fmt.Errorf("marshal consensus signal: %w", mErr)
				return err
			}
			signalJSON = string(raw)
		}
		_, err = stmt.ExecContext(ctx,
			msg.ID, session.ID, seq, msg.SpeakerID, string(msg.Kind), msg.Content, signalJSON,
			msg.Metadata.TokensUsed, msg.Metadata.ResponseTimeMs, msg.Timestamp.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session save: %w", err)
	}
	return nil
}

// LoadSessions returns all stored sessions with their messages, oldest first.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, goal, status, mode, participants_json, consensus_json,
		       total_messages, created_at, last_active
		FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var (
			session          domain.Session
			status, mode     string
			participantsJSON string
			consensusJSON    sql.NullString
			createdAt        int64
			lastActive       int64
		)
		if err := rows.Scan(
			&session.ID, &session.Title, &session.Goal, &status, &mode,
			&participantsJSON, &consensusJSON,
			&session.Metadata.TotalMessages, &createdAt, &lastActive,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		session.Status = domain.SessionStatus(status)
		session.Mode = domain.SessionMode(mode)
		session.Metadata.CreatedAt = time.UnixMilli(createdAt)
		session.Metadata.LastActive = time.UnixMilli(lastActive)

		if err := json.Unmarshal([]byte(participantsJSON), &session.Participants); err != nil {
			return nil, fmt.Errorf("decode participants for %s: %w", session.ID, err)
		}
		if consensusJSON.Valid {
			var state domain.ConsensusState
			if err := json.Unmarshal([]byte(consensusJSON.String), &state); err != nil {
				return nil, fmt.Errorf("decode consensus state for %s: %w", session.ID, err)
			}
			session.Consensus = &state
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, session := range sessions {
		msgs, err := s.loadMessages(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session.Messages = msgs
	}
	return sessions, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker_id, kind, content, signal_json,
		       tokens_used, response_time_ms, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			msg        domain.Message
			kind       string
			signalJSON sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(
			&msg.ID, &msg.SpeakerID, &kind, &msg.Content, &signalJSON,
			&msg.Metadata.TokensUsed, &msg.Metadata.ResponseTimeMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SessionID = sessionID
		msg.Kind = domain.MessageKind(kind)
		msg.Timestamp = time.UnixMilli(createdAt)
		if signalJSON.Valid {
			var signal domain.ConsensusSignal
			if err := json.Unmarshal([]byte(signalJSON.String), &signal); err != nil {
				return nil, fmt.Errorf("decode consensus signal for %s: %w", msg.ID, err)
			}
			msg.Consensus = &signal
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
