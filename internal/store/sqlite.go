package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/legalqa/legalqa/internal/session"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var schemas = map[Dialect][]string{
	SQLite: {
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT 'New Chat',
			created_ms INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_ms      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
	},
	Postgres: {
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT 'New Chat',
			created_ms BIGINT NOT NULL,
			updated_ms BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_ms      BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
	},
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// DefaultDBPath returns the default database path (~/.local/share/legalqa/chat.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "legalqa", "chat.db"), nil
}

// Open connects to the database for dialect and ensures the schema exists.
// For SQLite, dsn is a file path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	switch dialect {
	case SQLite, "":
		return NewSQLiteStore(ctx, dsn)
	case Postgres:
		return NewPostgresStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", dialect)
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, SQLite)
}

// NewPostgresStore connects to Postgres with a lib/pq DSN or URL.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, Postgres)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	for _, stmt := range schemas[dialect] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders for the dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) nowMs() int64 { return s.now().UnixMilli() }

func (s *SQLStore) CreateConversation(ctx context.Context, title, userID string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	id := uuid.NewString()
	now := s.nowMs()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, user_id, title, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?)`),
		id, userID, title, now, now)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *SQLStore) LoadTurns(ctx context.Context, conversationID string) ([]session.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT role, content FROM messages
		WHERE conversation_id = ? ORDER BY id ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []session.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r, err := session.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, err)
		}
		msgs = append(msgs, session.Message{Role: r, Content: content})
	}
	return msgs, rows.Err()
}

// AppendTurns writes msgs in order and bumps the conversation's update time
// in one transaction.
func (s *SQLStore) AppendTurns(ctx context.Context, conversationID string, msgs []session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.nowMs()
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET updated_ms = ? WHERE id = ?`), now, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	insert := s.rebind(`INSERT INTO messages (conversation_id, role, content, created_ms) VALUES (?, ?, ?, ?)`)
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, insert, conversationID, string(m.Role), m.Content, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const conversationColumns = `
	SELECT c.id, c.user_id, c.title, c.created_ms, c.updated_ms, COUNT(m.id)
	FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id`

const conversationGroupBy = ` GROUP BY c.id, c.user_id, c.title, c.created_ms, c.updated_ms`

func (s *SQLStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(conversationColumns+` WHERE c.id = ?`+conversationGroupBy), conversationID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recently updated
// first.
func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(conversationColumns+` WHERE c.user_id = ?`+conversationGroupBy+
		` ORDER BY c.updated_ms DESC, c.created_ms DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLStore) RenameConversation(ctx context.Context, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE conversations SET title = ? WHERE id = ?`), title, conversationID)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// DeleteUserConversations removes every conversation of userID and reports
// how many there were.
func (s *SQLStore) DeleteUserConversations(ctx context.Context, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = ?)`), userID); err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c                  Conversation
		createdMs, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &createdMs, &updated, &c.MessageCount); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdMs)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}
