package store

import (
	"context"
	"fmt"
)

// CreateMessage appends one message row and returns its id.
func (s *Store) CreateMessage(ctx context.Context, m Message) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (author_id, content, type, parent_id, recipient_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.AuthorID, m.Content, m.Type, m.ParentID, m.RecipientID, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// MessageExists reports whether a message row with the given id exists.
func (s *Store) MessageExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("message exists %d: %w", id, err)
	}
	return n > 0, nil
}

// RecentForumMessages returns the latest forum posts and replies, newest first.
func (s *Store) RecentForumMessages(ctx context.Context, limit int) ([]Message, error) {
	var out []Message
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM messages WHERE type IN (?, ?) ORDER BY id DESC LIMIT ?`,
		MsgForumPost, MsgForumReply, limit)
	if err != nil {
		return nil, fmt.Errorf("recent forum messages: %w", err)
	}
	return out, nil
}

// InboxMessages returns direct messages addressed to an agent, newest first.
func (s *Store) InboxMessages(ctx context.Context, agentID int64, limit int) ([]Message, error) {
	var out []Message
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM messages WHERE type = ? AND recipient_id = ? ORDER BY id DESC LIMIT ?`,
		MsgDirectMessage, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("inbox for agent %d: %w", agentID, err)
	}
	return out, nil
}
