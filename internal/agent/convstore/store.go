// Package convstore keeps multi-turn conversation state for conversational
// agents, keyed by a correlation id. It is an explicit dependency passed into
// agents rather than ambient package state, bounded by TTL and entry count.
package convstore

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"foreman/internal/agent"
	"foreman/internal/id"
)

const (
	defaultMaxSessions = 512
	defaultTTL         = 30 * time.Minute
)

// Session is one in-flight multi-turn dialog (e.g. a task-creation exchange).
type Session struct {
	ConversationID string
	UserID         string
	Intent         string
	State          map[string]any
	History        []agent.Message
	UpdatedAt      time.Time
}

// Config bounds the store.
type Config struct {
	MaxSessions int
	TTL         time.Duration
}

// Store holds conversation sessions with TTL eviction.
type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

// New creates a bounded conversation store. Zero config values fall back to
// defaults.
func New(cfg Config) *Store {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		cache: expirable.NewLRU[string, *Session](maxSessions, nil, ttl),
	}
}

// Begin opens a new session and returns its conversation id.
func (s *Store) Begin(userID, intent string) *Session {
	session := &Session{
		ConversationID: id.NewConversationID(),
		UserID:         userID,
		Intent:         intent,
		State:          make(map[string]any),
		UpdatedAt:      time.Now().UTC(),
	}
	s.mu.Lock()
	s.cache.Add(session.ConversationID, session)
	s.mu.Unlock()
	return session
}

// Get returns the session for a conversation id, or nil when expired or
// unknown.
func (s *Store) Get(conversationID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.cache.Get(conversationID)
	if !ok {
		return nil
	}
	return session
}

// Update applies fn to the session under the store lock and refreshes its
// TTL. Returns false when the session no longer exists.
func (s *Store) Update(conversationID string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.cache.Get(conversationID)
	if !ok {
		return false
	}
	fn(session)
	session.UpdatedAt = time.Now().UTC()
	s.cache.Add(conversationID, session)
	return true
}

// Clear removes a finished conversation. Idempotent.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	s.cache.Remove(conversationID)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
