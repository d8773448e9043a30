package session

import (
	"fmt"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/tokenizer"
)

// DefaultMaxTokens is the per-session budget when none is configured.
const DefaultMaxTokens = 64000

// Buffer is an ordered list of turns whose summed token cost never exceeds
// MaxTokens. Admission is all-or-nothing: a turn that would overflow the
// budget is rejected and the buffer is left untouched. Nothing is ever
// truncated or evicted to make room.
//
// Buffer is not safe for concurrent use; its Session serializes access.
type Buffer struct {
	counter   tokenizer.Counter
	maxTokens int
	turns     []Turn
	total     int
}

// NewBuffer returns an empty buffer. A non-positive maxTokens selects
// DefaultMaxTokens.
func NewBuffer(maxTokens int, counter tokenizer.Counter) *Buffer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if counter == nil {
		counter = tokenizer.Estimate{}
	}
	return &Buffer{counter: counter, maxTokens: maxTokens}
}

// Add appends a turn if its cost fits in the remaining budget. On rejection
// the returned *chaterr.Error has kind BudgetExceeded and carries the current
// total, the turn's cost and the budget.
func (b *Buffer) Add(role Role, content string) error {
	if !role.valid() {
		return chaterr.New(chaterr.InvalidRequest, "invalid role %q", role)
	}
	cost := b.counter.Count(content)
	if b.total+cost > b.maxTokens {
		return chaterr.Budget(chaterr.BudgetExceeded, b.total, cost, b.maxTokens)
	}
	b.turns = append(b.turns, Turn{Role: role, Content: content, TokenCost: cost})
	b.total += cost
	b.check()
	return nil
}

// LoadFrom replaces the contents with prior, admitting each message in order
// under the normal budget rule. If any message is rejected the buffer is left
// empty and the HistoryTooLong error reports the cost of the whole history as
// Current.
func (b *Buffer) LoadFrom(prior []Message) error {
	fresh := &Buffer{counter: b.counter, maxTokens: b.maxTokens}
	for i, m := range prior {
		if err := fresh.Add(m.Role, m.Content); err != nil {
			b.Clear()
			if chaterr.KindOf(err) != chaterr.BudgetExceeded {
				return err
			}
			need := fresh.total
			for _, rest := range prior[i:] {
				need += b.counter.Count(rest.Content)
			}
			return chaterr.Budget(chaterr.HistoryTooLong, need, 0, b.maxTokens)
		}
	}
	b.turns = fresh.turns
	b.total = fresh.total
	b.check()
	return nil
}

// Clear removes every turn.
func (b *Buffer) Clear() {
	b.turns = nil
	b.total = 0
}

// RollbackTo drops every turn after the first n.
func (b *Buffer) RollbackTo(n int) {
	if n < 0 || n >= len(b.turns) {
		return
	}
	for _, t := range b.turns[n:] {
		b.total -= t.TokenCost
	}
	b.turns = b.turns[:n]
	b.check()
}

func (b *Buffer) TokenCount() int { return b.total }
func (b *Buffer) MaxTokens() int  { return b.maxTokens }
func (b *Buffer) Len() int        { return len(b.turns) }

// Remaining is the budget left for further turns.
func (b *Buffer) Remaining() int { return b.maxTokens - b.total }

// Turns returns a copy of the turns in chronological order.
func (b *Buffer) Turns() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Last returns the most recent turn.
func (b *Buffer) Last() (Turn, bool) {
	if len(b.turns) == 0 {
		return Turn{}, false
	}
	return b.turns[len(b.turns)-1], true
}

// FormatFor renders the buffer for a turn-delimited backend.
func (b *Buffer) FormatFor(d Delimiters) string {
	return Format(b.turns, d)
}

// check panics when the cached total disagrees with the turns or exceeds
// the budget. Either means a bug in this file.
func (b *Buffer) check() {
	sum := 0
	for _, t := range b.turns {
		sum += t.TokenCost
	}
	if sum != b.total || b.total > b.maxTokens {
		panic(fmt.Sprintf("session: buffer invariant violated: total=%d sum=%d max=%d", b.total, sum, b.maxTokens))
	}
}
