package convstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/agent"
)

func TestBeginAndGet(t *testing.T) {
	store := New(Config{})

	session := store.Begin("user1", "create_task")
	require.NotNil(t, session)
	assert.Contains(t, session.ConversationID, "conv_")

	got := store.Get(session.ConversationID)
	require.NotNil(t, got)
	assert.Equal(t, "user1", got.UserID)
	assert.Equal(t, "create_task", got.Intent)
}

func TestUpdateRefreshesSession(t *testing.T) {
	store := New(Config{})
	session := store.Begin("user1", "create_task")

	ok := store.Update(session.ConversationID, func(s *Session) {
		s.State["title"] = "Fix login bug"
		s.History = append(s.History, agent.Message{Role: "user", Content: "call it Fix login bug"})
	})
	require.True(t, ok)

	got := store.Get(session.ConversationID)
	assert.Equal(t, "Fix login bug", got.State["title"])
	assert.Len(t, got.History, 1)
}

func TestUpdateMissingSession(t *testing.T) {
	store := New(Config{})
	assert.False(t, store.Update("conv_missing", func(*Session) {}))
}

func TestClearIsIdempotent(t *testing.T) {
	store := New(Config{})
	session := store.Begin("user1", "chat")

	store.Clear(session.ConversationID)
	assert.Nil(t, store.Get(session.ConversationID))
	store.Clear(session.ConversationID)
	assert.Equal(t, 0, store.Len())
}

func TestTTLExpiry(t *testing.T) {
	store := New(Config{MaxSessions: 8, TTL: 20 * time.Millisecond})
	session := store.Begin("user1", "chat")

	require.NotNil(t, store.Get(session.ConversationID))
	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, store.Get(session.ConversationID))
}

func TestLRUBound(t *testing.T) {
	store := New(Config{MaxSessions: 2, TTL: time.Minute})
	first := store.Begin("u1", "chat")
	store.Begin("u2", "chat")
	store.Begin("u3", "chat")

	assert.Equal(t, 2, store.Len())
	assert.Nil(t, store.Get(first.ConversationID), "oldest session evicted")
}
