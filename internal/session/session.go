package session

import (
	"sync"
	"time"

	"github.com/legalqa/legalqa/internal/tokenizer"
)

// Session is one user's live conversation state. All accessors except
// UserID require the caller to hold the session lock; the lock guards buffer
// admission only and must not be held across backend or network I/O.
type Session struct {
	UserID    string
	CreatedAt time.Time

	mu           sync.Mutex
	buffer       *Buffer
	activeChatID string
	persisted    int
	epoch        uint64
	updatedAt    time.Time
}

func newSession(userID string, maxTokens int, counter tokenizer.Counter) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		CreatedAt: now,
		buffer:    NewBuffer(maxTokens, counter),
		updatedAt: now,
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Buffer returns the session's buffer. Caller holds the lock.
func (s *Session) Buffer() *Buffer { return s.buffer }

// ActiveChatID is the stored conversation the buffer mirrors, or "" when the
// conversation has not been persisted yet. Caller holds the lock.
func (s *Session) ActiveChatID() string { return s.activeChatID }

// SetActiveChatID records the conversation the buffer mirrors.
func (s *Session) SetActiveChatID(id string) {
	s.activeChatID = id
	s.touch()
}

// Persisted is the number of leading buffer turns already in storage.
func (s *Session) Persisted() int { return s.persisted }

// MarkPersisted records that the first n buffer turns are in storage.
func (s *Session) MarkPersisted(n int) {
	s.persisted = n
	s.touch()
}

// Pending returns the turns not yet written to storage.
func (s *Session) Pending() []Turn {
	turns := s.buffer.Turns()
	if s.persisted >= len(turns) {
		return nil
	}
	return turns[s.persisted:]
}

// Epoch changes whenever the buffer is replaced wholesale. A reply computed
// under an older epoch belongs to a conversation that is gone.
func (s *Session) Epoch() uint64 { return s.epoch }

// Reset empties the buffer and detaches it from any stored conversation.
func (s *Session) Reset() {
	s.buffer.Clear()
	s.activeChatID = ""
	s.persisted = 0
	s.epoch++
	s.touch()
}

// Load replaces the buffer with a stored conversation's history. On failure
// the session is left reset.
func (s *Session) Load(chatID string, prior []Message) error {
	s.epoch++
	s.persisted = 0
	s.activeChatID = ""
	if err := s.buffer.LoadFrom(prior); err != nil {
		s.touch()
		return err
	}
	s.activeChatID = chatID
	s.persisted = s.buffer.Len()
	s.touch()
	return nil
}

// UpdatedAt is the time of the last state change.
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

func (s *Session) touch() { s.updatedAt = time.Now() }
