package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository and tab storage using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Pragmas are set
	// per connection so every pooled connection waits on a busy database.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
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
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		page_type TEXT NOT NULL,
		threshold_crossed INTEGER NOT NULL DEFAULT 0,
		intent_type TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		signal_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		data_json TEXT NOT NULL,
		page_type TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_session ON signals(session_id);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		intent_type TEXT NOT NULL DEFAULT '',
		initial_message TEXT NOT NULL,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalation_reason TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		buttons_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS tab_storage (
		tab_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tab_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_tab_storage_updated ON tab_storage(updated_at);
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

// UpsertSession creates a session or refreshes its page type and last seen time.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sessionID string, pageType domain.PageType, seenAt time.Time) error {
	query := `
	INSERT INTO sessions (session_id, page_type, created_at, last_seen_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		page_type = excluded.page_type,
		last_seen_at = excluded.last_seen_at`

	return withRetry(ctx, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, string(pageType), seenAt.UnixMilli(), seenAt.UnixMilli())
		return err
	})
}

// GetSession retrieves a session. It returns nil, nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, page_type, threshold_crossed, intent_type, confidence,
		       signal_count, created_at, last_seen_at
		FROM sessions WHERE session_id = ?`

	var sess domain.Session
	var pageType, intentType string
	var createdAt, lastSeen int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &pageType, &sess.Status.ThresholdCrossed, &intentType, &sess.Status.Confidence,
		&sess.SignalCount, &createdAt, &lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.PageType = domain.PageType(pageType)
	sess.Status.IntentType = domain.IntentType(intentType)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastSeenAt = time.UnixMilli(lastSeen)
	return &sess, nil
}

// RecordSignal stores a signal and touches its session, creating it if needed.
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig.Data)
	if err != nil {
		return fmt.Errorf("encode signal data: %w", err)
	}
	ts := sig.Timestamp.UnixMilli()

	return withRetry(ctx, "record signal", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, page_type, signal_count, created_at, last_seen_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				signal_count = sessions.signal_count + 1,
				last_seen_at = MAX(sessions.last_seen_at, excluded.last_seen_at)`,
			sig.SessionID, string(sig.PageType), ts, ts); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signals (session_id, signal_type, data_json, page_type, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sig.SessionID, string(sig.Type), string(data), string(sig.PageType), ts); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// SetIntent stores the intent status of a session, creating it if needed.
func (s *SQLiteStore) SetIntent(ctx context.Context, sessionID string, status domain.IntentStatus) error {
	status = status.Normalize()
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO sessions (session_id, page_type, threshold_crossed, intent_type, confidence, created_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		threshold_crossed = excluded.threshold_crossed,
		intent_type = excluded.intent_type,
		confidence = excluded.confidence`

	return withRetry(ctx, "set intent", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sessionID, string(domain.PageOther), status.ThresholdCrossed,
			string(status.IntentType), status.Confidence, now, now)
		return err
	})
}

// CreateConversation stores a new conversation with its messages.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	return withRetry(ctx, "create conversation", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, session_id, intent_type, initial_message, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			conv.ID, conv.SessionID, string(conv.IntentType), conv.InitialMessage, conv.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		for _, msg := range conv.Messages {
			if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetConversation retrieves a conversation and its messages in order.
// It returns nil, nil when absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.getConversation(ctx, `conversation_id = ?`, conversationID)
}

// GetConversationBySession retrieves the conversation of a session.
// It returns nil, nil when absent.
func (s *SQLiteStore) GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	return s.getConversation(ctx, `session_id = ?`, sessionID)
}

func (s *SQLiteStore) getConversation(ctx context.Context, where string, arg string) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, session_id, intent_type, initial_message, escalated, created_at
		FROM conversations WHERE ` + where

	var conv domain.Conversation
	var intentType string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&conv.ID, &conv.SessionID, &intentType, &conv.InitialMessage, &conv.Escalated, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	conv.IntentType = domain.IntentType(intentType)
	conv.CreatedAt = time.UnixMilli(createdAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, text, buttons_json, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	conv.Messages = []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var sender string
		var buttons sql.NullString
		var ts int64
		if err := rows.Scan(&sender, &msg.Text, &buttons, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Sender = domain.Sender(sender)
		msg.Timestamp = time.UnixMilli(ts)
		if buttons.Valid && buttons.String != "" {
			if err := json.Unmarshal([]byte(buttons.String), &msg.Buttons); err != nil {
				return nil, fmt.Errorf("decode message buttons: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &conv, nil
}

// AppendMessage adds a message to the end of a conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	return withRetry(ctx, "append message", func() error {
		return insertMessage(ctx, s.db, conversationID, msg)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, conversationID string, msg domain.Message) error {
	var buttons any
	if len(msg.Buttons) > 0 {
		buf, err := json.Marshal(msg.Buttons)
		if err != nil {
			return fmt.Errorf("encode buttons: %w", err)
		}
		buttons = string(buf)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender, text, buttons_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(msg.Sender), msg.Text, buttons, msg.Timestamp.UnixMilli())
	return err
}

// MarkEscalated flags a conversation for human handoff.
func (s *SQLiteStore) MarkEscalated(ctx context.Context, conversationID, reason string) error {
	var rows int64
	err := withRetry(ctx, "mark escalated", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET escalated = 1, escalation_reason = ? WHERE conversation_id = ?`,
			reason, conversationID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// CleanupExpiredSessions removes sessions idle longer than ttl together with
// their signals, conversations and messages. It returns the number of
// sessions removed.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64

	err := withRetry(ctx, "cleanup expired sessions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		expired := `SELECT session_id FROM sessions WHERE last_seen_at < ?`
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE conversation_id IN (
				SELECT conversation_id FROM conversations WHERE session_id IN (`+expired+`))`, threshold); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id IN (`+expired+`)`, threshold); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE session_id IN (`+expired+`)`, threshold); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}

// Tab returns the key-value storage of one browser tab.
func (s *SQLiteStore) Tab(tabID string) *SQLiteTabStorage {
	return &SQLiteTabStorage{db: s.db, tabID: tabID, now: time.Now}
}

// DeleteExpiredTabs removes tab entries not written or read for ttl.
func (s *SQLiteStore) DeleteExpiredTabs(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64
	err := withRetry(ctx, "delete expired tabs", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM tab_storage WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// SQLiteTabStorage is tab-scoped key-value storage. Entries of tabs idle
// past the TTL are removed by the TTL worker.
type SQLiteTabStorage struct {
	db    *sql.DB
	tabID string
	now   func() time.Time
}

// Get reads a key and refreshes the tab's last use.
func (t *SQLiteTabStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.db.QueryRowContext(ctx,
		`SELECT value FROM tab_storage WHERE tab_id = ? AND key = ?`, t.tabID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read tab storage: %w", err)
	}

	if err := withRetry(ctx, "touch tab storage", func() error {
		_, err := t.db.ExecContext(ctx,
			`UPDATE tab_storage SET updated_at = ? WHERE tab_id = ? AND key = ?`,
			t.now().UnixMilli(), t.tabID, key)
		return err
	}); err != nil {
		slog.Debug("failed to touch tab storage", "tab_id", t.tabID, "error", err)
	}
	return value, true, nil
}

// Set writes a key.
func (t *SQLiteTabStorage) Set(ctx context.Context, key, value string) error {
	return withRetry(ctx, "write tab storage", func() error {
		_, err := t.db.ExecContext(ctx, `
			INSERT INTO tab_storage (tab_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(tab_id, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			t.tabID, key, value, t.now().UnixMilli())
		return err
	})
}
