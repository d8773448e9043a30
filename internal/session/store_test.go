package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalqa/legalqa/internal/chaterr"
)

func TestGetOrCreateSameSession(t *testing.T) {
	s := NewStore(100, lenCounter)

	var wg sync.WaitGroup
	got := make([]*Session, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = s.GetOrCreate("alice")
		}(i)
	}
	wg.Wait()

	for _, sess := range got {
		assert.Same(t, got[0], sess)
	}
	assert.Equal(t, 1, s.Len())
}

// Concurrent adds admit exactly as many equal-cost turns as fit; the rest are
// rejected and the buffer never holds a torn state.
func TestConcurrentAddsAdmitPrefix(t *testing.T) {
	s := NewStore(100, lenCounter)
	sess := s.GetOrCreate("alice")

	const n = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Lock()
			err := sess.Buffer().Add(RoleUser, "0123456789")
			sess.Unlock()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, chaterr.ErrBudgetExceeded)
				rejected++
				return
			}
			admitted++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
	assert.Equal(t, n-10, rejected)

	sess.Lock()
	defer sess.Unlock()
	assert.Equal(t, 100, sess.Buffer().TokenCount())
	assert.Equal(t, 10, sess.Buffer().Len())
}

// Turns of different costs race for the session, but each goroutine only
// takes the lock after its predecessor has finished. Admission is then a
// fixed function of arrival order: a turn that no longer fits is rejected and
// later, cheaper turns can still get in.
func TestConcurrentAddsMixedCostsByArrival(t *testing.T) {
	s := NewStore(100, lenCounter)
	sess := s.GetOrCreate("alice")

	contents := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 50),
		strings.Repeat("c", 40),
		strings.Repeat("d", 10),
		strings.Repeat("e", 25),
		strings.Repeat("f", 5),
	}
	errs := make([]error, len(contents))

	var wg sync.WaitGroup
	prev := make(chan struct{})
	close(prev)
	for i, content := range contents {
		done := make(chan struct{})
		wg.Add(1)
		go func(i int, content string, wait <-chan struct{}, done chan<- struct{}) {
			defer wg.Done()
			defer close(done)
			<-wait
			sess.Lock()
			errs[i] = sess.Buffer().Add(RoleUser, content)
			sess.Unlock()
		}(i, content, prev, done)
		prev = done
	}
	wg.Wait()

	admitted := []string{}
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, chaterr.ErrBudgetExceeded, "turn %d", i)
			continue
		}
		admitted = append(admitted, contents[i])
	}
	assert.Equal(t, []string{contents[0], contents[1], contents[3], contents[5]}, admitted)

	sess.Lock()
	defer sess.Unlock()
	var got []string
	for _, turn := range sess.Buffer().Turns() {
		got = append(got, turn.Content)
	}
	assert.Equal(t, admitted, got)
	assert.Equal(t, 95, sess.Buffer().TokenCount())
}

func TestStoreClear(t *testing.T) {
	s := NewStore(100, lenCounter)
	old := s.GetOrCreate("alice")
	old.Lock()
	require.NoError(t, old.Buffer().Add(RoleUser, "hello"))
	epoch := old.Epoch()
	old.Unlock()

	s.Clear("alice")
	_, ok := s.Get("alice")
	assert.False(t, ok)

	old.Lock()
	assert.Equal(t, 0, old.Buffer().Len())
	assert.NotEqual(t, epoch, old.Epoch())
	old.Unlock()

	fresh := s.GetOrCreate("alice")
	assert.NotSame(t, old, fresh)
}

func TestSessionLoadAndPending(t *testing.T) {
	sess := NewStore(100, lenCounter).GetOrCreate("bob")
	sess.Lock()
	defer sess.Unlock()

	require.NoError(t, sess.Load("chat-1", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}))
	assert.Equal(t, "chat-1", sess.ActiveChatID())
	assert.Equal(t, 2, sess.Persisted())
	assert.Empty(t, sess.Pending())

	require.NoError(t, sess.Buffer().Add(RoleUser, "next"))
	pending := sess.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "next", pending[0].Content)
}

func TestSessionLoadFailureResets(t *testing.T) {
	sess := NewStore(5, lenCounter).GetOrCreate("bob")
	sess.Lock()
	defer sess.Unlock()

	sess.SetActiveChatID("chat-0")
	err := sess.Load("chat-1", []Message{{Role: RoleUser, Content: "too long"}})
	require.ErrorIs(t, err, chaterr.ErrHistoryTooLong)
	assert.Equal(t, "", sess.ActiveChatID())
	assert.Equal(t, 0, sess.Buffer().Len())
	assert.Equal(t, 0, sess.Persisted())
}
