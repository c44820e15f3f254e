// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
)

// Repository persists sessions, signals and conversations for the intent
// backend.
type Repository interface {
	// UpsertSession creates a session or refreshes its page type and last seen time.
	UpsertSession(ctx context.Context, sessionID string, pageType domain.PageType, seenAt time.Time) error

	// GetSession retrieves a session. It returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// RecordSignal stores a signal and touches its session, creating it if needed.
	RecordSignal(ctx context.Context, sig domain.Signal) error

	// SetIntent stores the intent status of a session, creating it if needed.
	SetIntent(ctx context.Context, sessionID string, status domain.IntentStatus) error

	// CreateConversation stores a new conversation with its messages.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation and its messages in order.
	// It returns nil, nil when absent.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// GetConversationBySession retrieves the conversation of a session.
	// It returns nil, nil when absent.
	GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// AppendMessage adds a message to the end of a conversation.
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error

	// MarkEscalated flags a conversation for human handoff.
	MarkEscalated(ctx context.Context, conversationID, reason string) error

	// CleanupExpiredSessions removes sessions, signals and conversations idle longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ErrNotFound reports a missing row on update.
var ErrNotFound = errors.New("not found")
