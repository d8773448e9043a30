// Package store persists conversations and their messages.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/legalqa/legalqa/internal/session"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// DefaultTitle names a conversation whose first message has no usable text.
const DefaultTitle = "New Chat"

const maxTitleRunes = 50

// Conversation is a stored conversation without its messages.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Store is the storage collaborator. Implementations must be safe for
// concurrent use; AppendTurns is all-or-nothing.
type Store interface {
	CreateConversation(ctx context.Context, title, userID string) (string, error)
	LoadTurns(ctx context.Context, conversationID string) ([]session.Message, error)
	AppendTurns(ctx context.Context, conversationID string, msgs []session.Message) error

	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, conversationID, title string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	DeleteUserConversations(ctx context.Context, userID string) (int, error)
	Close() error
}

// TitleFrom derives a conversation title from its first message: the first
// non-empty line, cut to fifty characters.
func TitleFrom(message string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			r := []rune(line)
			line = strings.TrimSpace(string(r[:maxTitleRunes])) + "..."
		}
		return line
	}
	return DefaultTitle
}

// Groups is a conversation listing bucketed by last activity.
type Groups struct {
	Today     []Conversation `json:"today"`
	Yesterday []Conversation `json:"yesterday"`
	LastWeek  []Conversation `json:"last_week"`
	LastMonth []Conversation `json:"last_month"`
	Older     []Conversation `json:"older"`
}

// GroupByAge buckets convs by UpdatedAt relative to now's calendar day.
// Order within a bucket is preserved.
func GroupByAge(convs []Conversation, now time.Time) Groups {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	lastWeek := today.AddDate(0, 0, -7)
	lastMonth := today.AddDate(0, 0, -30)

	g := Groups{
		Today:     []Conversation{},
		Yesterday: []Conversation{},
		LastWeek:  []Conversation{},
		LastMonth: []Conversation{},
		Older:     []Conversation{},
	}
	for _, c := range convs {
		t := c.UpdatedAt.In(now.Location())
		switch {
		case !t.Before(today):
			g.Today = append(g.Today, c)
		case !t.Before(yesterday):
			g.Yesterday = append(g.Yesterday, c)
		case !t.Before(lastWeek):
			g.LastWeek = append(g.LastWeek, c)
		case !t.Before(lastMonth):
			g.LastMonth = append(g.LastMonth, c)
		default:
			g.Older = append(g.Older, c)
		}
	}
	return g
}
