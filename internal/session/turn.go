// Package session holds per-user conversation state: the token-budgeted
// context buffer, the prompt formatting over it, and the process-wide
// registry of live sessions.
package session

import (
	"fmt"
	"strings"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts the stored role names. "bot" is the legacy name for
// assistant turns written by older deployments.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "assistant", "bot", "model":
		return RoleAssistant, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) valid() bool { return r == RoleUser || r == RoleAssistant }

// Turn is one message in the buffer. TokenCost is computed once when the turn
// is admitted and never recomputed.
type Turn struct {
	Role      Role
	Content   string
	TokenCost int
}

// Message is a prior turn as handed over by storage, before it has a cost.
type Message struct {
	Role    Role
	Content string
}

// Messages strips the costs off turns.
func Messages(turns []Turn) []Message {
	out := make([]Message, len(turns))
	for i, t := range turns {
		out[i] = Message{Role: t.Role, Content: t.Content}
	}
	return out
}
