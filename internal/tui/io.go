// Package tui is the terminal front end of the chat command: a plain
// line-oriented mode, a full-screen bubbletea mode, and the chat loop that
// drives either.
package tui

import "fmt"

// IO is the terminal the chat loop talks to.
type IO interface {
	ReadInput() (string, error)
	UserMessage(text string)
	// Progress shows what the current turn is doing.
	Progress(label string)
	Reply(text string)
	SystemMessage(text string)
	Error(msg string)
	SetStatus(st Status)
}

// TurnCanceller is implemented by IOs that let the user abort a turn in
// flight.
type TurnCanceller interface {
	SetTurnCancel(cancel func())
	ClearTurnCancel()
}

// Status is the state shown in the status line.
type Status struct {
	Backend      string
	Conversation string
	Tokens       int
	MaxTokens    int
	Search       bool
}

func (s Status) String() string {
	out := fmt.Sprintf(" %s | tokens: %d/%d", s.Backend, s.Tokens, s.MaxTokens)
	if s.Search {
		out += " | search: on"
	}
	if s.Conversation != "" {
		id := s.Conversation
		if len(id) > 8 {
			id = id[:8]
		}
		out += " | chat: " + id
	}
	return out
}
