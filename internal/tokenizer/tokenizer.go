// Package tokenizer counts tokens for budgeting conversation buffers.
//
// A single counting scheme is used for every backend. Counts only need to be
// consistent with each other; they are not the backend's own tokenization.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE table used when none is configured.
const DefaultEncoding = "cl100k_base"

// Counter maps text to a non-negative token count. Implementations must be
// pure and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Tiktoken counts with an OpenAI BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The BPE table is fetched and cached
// by tiktoken-go on first use, so this can fail when offline.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count encodes text without special-token handling, so user text that
// happens to contain "<|endoftext|>" is counted instead of rejected.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.EncodeOrdinary(text))
}

// Estimate approximates one token per four characters.
type Estimate struct{}

func (Estimate) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// New returns the counter for a configured scheme name. "estimate" selects
// Estimate; anything else is treated as a tiktoken encoding name.
func New(scheme string) (Counter, error) {
	if scheme == "estimate" {
		return Estimate{}, nil
	}
	return NewTiktoken(scheme)
}
