// Package memory provides an in-process conversation store so chat
// requests can thread a short history into the generation prompt.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
	At      time.Time
}

type session struct {
	turns     []Turn
	updatedAt time.Time
}

// Store holds conversation histories keyed by session id. Histories are
// capped so prompts stay small, and sessions idle longer than the TTL
// are evicted by a background sweep. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
}

// NewStore creates a conversation store keeping at most maxTurns turns
// per session and dropping sessions idle longer than ttl.
func NewStore(maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Store{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
	}

	go s.cleanupLoop()

	return s
}

// Append adds a turn to the session's history.
func (s *Store) Append(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}

	now := time.Now()
	sess.turns = append(sess.turns, Turn{
		Role:    role,
		Content: content,
		At:      now,
	})
	if len(sess.turns) > s.maxTurns {
		sess.turns = sess.turns[len(sess.turns)-s.maxTurns:]
	}
	sess.updatedAt = now
}

// History returns a copy of the session's turns, oldest first.
func (s *Store) History(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Render formats the session's history as a prompt block. Empty when the
// session has no turns.
func (s *Store) Render(sessionID string) string {
	turns := s.History(sessionID)
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

// Clear removes a session's history.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// cleanupLoop periodically removes expired sessions.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup()
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.updatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}
