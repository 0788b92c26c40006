package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/basket/taskchat/internal/shared"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// CurrentConversation returns the owner's most recently updated
// conversation, creating one if none exists.
func (s *Store) CurrentConversation(ctx context.Context, ownerID string) (Conversation, error) {
	var c Conversation
	err := s.queryRow(ctx, `
		SELECT id, owner_id, created_at, updated_at FROM conversations
		WHERE owner_id = ? ORDER BY updated_at DESC LIMIT 1;
	`, ownerID).Scan(&c.ID, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("get current conversation: %w", err)
	}

	now := s.timestamp()
	c = Conversation{ID: shared.NewID(), OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	err = s.retry(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO conversations (id, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?);
		`, c.ID, c.OwnerID, c.CreatedAt, c.UpdatedAt)
		return err
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *Store) checkConversationOwner(ctx context.Context, ownerID, conversationID string) error {
	var owner string
	err := s.queryRow(ctx, `SELECT owner_id FROM conversations WHERE id = ?;`, conversationID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get conversation: %w", err)
	}
	if owner != ownerID {
		return ErrForbidden
	}
	return nil
}

// AddMessage appends a message to one of the owner's conversations and
// bumps the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, ownerID, conversationID, role, content string, toolCalls json.RawMessage) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.checkConversationOwner(ctx, ownerID, conversationID); err != nil {
		return Message{}, err
	}

	now := s.timestamp()
	m := Message{ConversationID: conversationID, Role: role, Content: content, ToolCalls: toolCalls, CreatedAt: now}
	var calls any
	if len(toolCalls) > 0 {
		calls = string(toolCalls)
	}

	err := s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO messages (conversation_id, role, content, tool_calls, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id;
		`), conversationID, role, content, calls, now).Scan(&m.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?;`), now, conversationID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns up to limit of the newest messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]Message, error) {
	if err := s.checkConversationOwner(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?;
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var calls sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &calls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if calls.Valid && calls.String != "" {
			m.ToolCalls = json.RawMessage(calls.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// ClearConversation deletes all messages in the owner's conversations.
func (s *Store) ClearConversation(ctx context.Context, ownerID string) (int64, error) {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.exec(ctx, `
			DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE owner_id = ?);
		`, ownerID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
