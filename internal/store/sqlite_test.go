package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "intent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetSession(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, got)

	seen := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.UpsertSession(ctx, "session_1", domain.PagePricing, seen))
	require.NoError(t, s.SetIntent(ctx, "session_1", domain.IntentStatus{
		ThresholdCrossed: true, IntentType: domain.IntentPricing, Confidence: 1.4,
	}))

	got, err = s.GetSession(ctx, "session_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.PagePricing, got.PageType)
	assert.Equal(t, domain.IntentStatus{ThresholdCrossed: true, IntentType: domain.IntentPricing, Confidence: 1}, got.Status)
	assert.True(t, got.LastSeenAt.Equal(seen))
}

func TestRecordSignalCreatesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordSignal(ctx, domain.Signal{
			SessionID: "session_2",
			Type:      domain.SignalScroll,
			Data:      map[string]any{"depth": 10 * (i + 1)},
			PageType:  domain.PageDocs,
			Timestamp: time.Now(),
		}))
	}

	got, err := s.GetSession(ctx, "session_2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.SignalCount)
	assert.Equal(t, domain.PageDocs, got.PageType)
	assert.False(t, got.Status.ThresholdCrossed)
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	conv := &domain.Conversation{
		ID:             "conv_1",
		SessionID:      "session_3",
		IntentType:     domain.IntentPricing,
		InitialMessage: "Hi there",
		Messages: []domain.Message{
			{Text: "Hi there", Sender: domain.SenderBot, Timestamp: now},
		},
		CreatedAt: now,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.AppendMessage(ctx, "conv_1", domain.Message{Text: "Bulk orders", Sender: domain.SenderVisitor, Timestamp: now}))
	require.NoError(t, s.AppendMessage(ctx, "conv_1", domain.Message{
		Text:      "How many units?",
		Sender:    domain.SenderBot,
		Buttons:   []domain.Button{{Label: "Talk to sales", CommandID: "talk_to_sales"}},
		Timestamp: now,
	}))

	got, err := s.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "session_3", got.SessionID)
	assert.Equal(t, domain.IntentPricing, got.IntentType)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "Bulk orders", got.Messages[1].Text)
	assert.Nil(t, got.Messages[1].Buttons)
	assert.Equal(t, "talk_to_sales", got.Messages[2].Buttons[0].CommandID)

	bySession, err := s.GetConversationBySession(ctx, "session_3")
	require.NoError(t, err)
	require.NotNil(t, bySession)
	assert.Equal(t, "conv_1", bySession.ID)

	missing, err := s.GetConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOneConversationPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{ID: "a", SessionID: "s", CreatedAt: time.Now()}))
	assert.Error(t, s.CreateConversation(ctx, &domain.Conversation{ID: "b", SessionID: "s", CreatedAt: time.Now()}))
}

func TestMarkEscalated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkEscalated(ctx, "missing", "help"), ErrNotFound)

	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{ID: "c", SessionID: "s", CreatedAt: time.Now()}))
	require.NoError(t, s.MarkEscalated(ctx, "c", "asked for a human"))

	got, err := s.GetConversation(ctx, "c")
	require.NoError(t, err)
	assert.True(t, got.Escalated)
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.UpsertSession(ctx, "old", domain.PageBlog, old))
	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{
		ID: "old_conv", SessionID: "old", CreatedAt: old,
		Messages: []domain.Message{{Text: "hi", Sender: domain.SenderBot, Timestamp: old}},
	}))
	require.NoError(t, s.UpsertSession(ctx, "fresh", domain.PageBlog, time.Now()))

	deleted, err := s.CleanupExpiredSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := s.GetSession(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	conv, err := s.GetConversation(ctx, "old_conv")
	require.NoError(t, err)
	assert.Nil(t, conv)

	kept, err := s.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestTabStorageIsolatedPerTab(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tabA, tabB := s.Tab("a"), s.Tab("b")
	idA := identity.GetOrCreateSessionID(ctx, tabA, nil)
	assert.Equal(t, idA, identity.GetOrCreateSessionID(ctx, tabA, nil))

	idB := identity.GetOrCreateSessionID(ctx, tabB, nil)
	assert.NotEqual(t, idA, idB)

	stored, ok, err := tabA.Get(ctx, identity.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, idA, stored)
}

func TestDeleteExpiredTabs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := s.Tab("stale")
	stale.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, stale.Set(ctx, "k", "v"))
	require.NoError(t, s.Tab("live").Set(ctx, "k", "v"))

	deleted, err := s.DeleteExpiredTabs(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, err := s.Tab("stale").Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Tab("live").Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
