package session

import (
	"sync"

	"github.com/legalqa/legalqa/internal/tokenizer"
)

// Store is the process-wide registry of live sessions keyed by user ID.
// It is the only writer of the mapping. Sessions are never evicted; they go
// away only through Clear.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	maxTokens int
	counter   tokenizer.Counter
}

// NewStore creates a registry whose sessions get buffers of maxTokens.
func NewStore(maxTokens int, counter tokenizer.Counter) *Store {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Store{
		sessions:  make(map[string]*Session),
		maxTokens: maxTokens,
		counter:   counter,
	}
}

// GetOrCreate returns the user's session, creating an empty one if needed.
// Concurrent callers for the same user always get the same *Session.
func (s *Store) GetOrCreate(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess := newSession(userID, s.maxTokens, s.counter)
	s.sessions[userID] = sess
	return sess
}

// Get returns the user's session if one exists.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Clear destroys the user's session. A turn still in flight for the old
// session keeps its pointer; its epoch is bumped so the reply is dropped.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()

	if ok {
		sess.Lock()
		sess.Reset()
		sess.Unlock()
	}
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// MaxTokens is the per-session budget.
func (s *Store) MaxTokens() int { return s.maxTokens }
