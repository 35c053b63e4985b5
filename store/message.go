package store

import (
	"context"
	"time"
)

// Message kinds. System messages are server-generated notices; ai
// messages are authored by the assistant account.
const (
	MessageKindText   = "text"
	MessageKindSystem = "system"
	MessageKindAI     = "ai"
)

// Message is append-only; there is no update or user-facing delete.
type Message struct {
	ID        int32
	GroupID   int32
	SenderID  int32
	Content   string
	Kind      string
	CreatedTs int64
}

type FindMessage struct {
	ID       *int32
	GroupID  *int32
	SenderID *int32
	Limit    *int
	Offset   *int
}

// CreateMessage appends unconditionally; authorization happened in the
// caller (group engine).
func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.Kind == "" {
		create.Kind = MessageKindText
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.CreateMessage(ctx, create)
}

// ListMessages returns newest first; use ListRecentMessages for the
// chronological order handed to clients.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// ListRecentMessages returns the most recent limit messages of a group
// in chronological order, oldest first.
func (s *Store) ListRecentMessages(ctx context.Context, groupID int32, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	messages, err := s.driver.ListMessages(ctx, &FindMessage{GroupID: &groupID, Limit: &limit})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
