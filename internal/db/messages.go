package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// noReplyTo is stored in reply_to when a message replies to nothing;
// message ids are never negative.
const noReplyTo int32 = -1

// Message is the stored message row. ChatID is always the real chat id;
// handlers rewrite it to the recipient's view before serializing.
type Message struct {
	ChatID   int32
	ID       int32
	FromID   int32
	Date     int64
	IsUnread bool
	ReplyTo  int32
	Content  string
	Hashes   []string
	Edited   bool
}

// HasReply reports whether ReplyTo points at a message.
func (m *Message) HasReply() bool { return m.ReplyTo >= 0 }

// MessagePatch carries the fields an edit may change; nil means preserved.
type MessagePatch struct {
	Content *string
	Hashes  []string
	ReplyTo *int32
}

// Messages gates the per-chat append-only message log.
type Messages struct {
	cql   *gocql.Session
	locks *chatLocks
}

const messageColumns = "chat_id, id, from_id, date, is_unread, reply_to, content, sha256_hashes, edited"

// Add appends a message under latest_id+1 (0 for an empty chat). The
// per-chat lock serializes concurrent appends so ids never collide.
func (m *Messages) Add(ctx context.Context, chatID, fromID int32, content string, hashes []string, replyTo *int32) (*Message, error) {
	unlock := m.locks.lock(chatID)
	defer unlock()

	latest, err := m.LatestID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ChatID:   chatID,
		ID:       latest + 1,
		FromID:   fromID,
		Date:     time.Now().Unix(),
		IsUnread: true,
		ReplyTo:  noReplyTo,
		Content:  content,
		Hashes:   hashes,
	}
	if replyTo != nil {
		msg.ReplyTo = *replyTo
	}
	err = m.cql.Query(
		`INSERT INTO messages (chat_id, id, from_id, date, is_unread, reply_to, content, sha256_hashes, edited)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.ID, msg.FromID, msg.Date, msg.IsUnread, msg.ReplyTo,
		msg.Content, msg.Hashes, msg.Edited,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// LatestID returns the newest message id in the chat, -1 when empty. The
// DESC clustering makes this a single-row read.
func (m *Messages) LatestID(ctx context.Context, chatID int32) (int32, error) {
	var id int32
	err := m.cql.Query(`SELECT id FROM messages WHERE chat_id = ? LIMIT 1`, chatID).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if notFound(err) {
			return -1, nil
		}
		return 0, fmt.Errorf("latest message id: %w", err)
	}
	return id, nil
}

// Fetch returns messages of the inclusive [start, end] range in ascending
// id order. start -1 substitutes the latest id; end 0 narrows the result
// to the single message at start.
func (m *Messages) Fetch(ctx context.Context, chatID, start, end int32) ([]Message, error) {
	if start == -1 {
		latest, err := m.LatestID(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if latest < 0 {
			return []Message{}, nil
		}
		start = latest
	}
	if end == 0 {
		msg, err := m.FetchOne(ctx, chatID, start)
		if err == ErrNotFound {
			return []Message{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []Message{*msg}, nil
	}

	iter := m.cql.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE chat_id = ? AND id >= ? AND id <= ? ORDER BY id ASC`,
		chatID, start, end,
	).WithContext(ctx).Iter()

	var out []Message
	var msg Message
	for iter.Scan(&msg.ChatID, &msg.ID, &msg.FromID, &msg.Date, &msg.IsUnread,
		&msg.ReplyTo, &msg.Content, &msg.Hashes, &msg.Edited) {
		out = append(out, msg)
		msg = Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (m *Messages) FetchOne(ctx context.Context, chatID, id int32) (*Message, error) {
	msg := &Message{}
	err := m.cql.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`,
		chatID, id).
		WithContext(ctx).
		Scan(&msg.ChatID, &msg.ID, &msg.FromID, &msg.Date, &msg.IsUnread,
			&msg.ReplyTo, &msg.Content, &msg.Hashes, &msg.Edited)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return msg, nil
}

// MarkAsRead clears is_unread on the given ids. Single-partition batch.
func (m *Messages) MarkAsRead(ctx context.Context, chatID int32, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	batch := m.cql.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, id := range ids {
		batch.Query(`UPDATE messages SET is_unread = false WHERE chat_id = ? AND id = ?`, chatID, id)
	}
	if err := m.cql.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return nil
}

// Edit applies the patch to the stored row, flags it edited and returns the
// updated message.
func (m *Messages) Edit(ctx context.Context, chatID, id int32, patch MessagePatch) (*Message, error) {
	msg, err := m.FetchOne(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Hashes != nil {
		msg.Hashes = patch.Hashes
	}
	if patch.ReplyTo != nil {
		msg.ReplyTo = *patch.ReplyTo
	}
	msg.Edited = true

	err = m.cql.Query(
		`UPDATE messages SET content = ?, sha256_hashes = ?, reply_to = ?, edited = true
		 WHERE chat_id = ? AND id = ?`,
		msg.Content, msg.Hashes, msg.ReplyTo, chatID, id,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

// Delete removes the message, reporting ErrNotFound for an id that was
// never written.
func (m *Messages) Delete(ctx context.Context, chatID, id int32) error {
	if _, err := m.FetchOne(ctx, chatID, id); err != nil {
		return err
	}
	err := m.cql.Query(`DELETE FROM messages WHERE chat_id = ? AND id = ?`, chatID, id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// UnreadCount scans the chat partition for messages still flagged unread.
func (m *Messages) UnreadCount(ctx context.Context, chatID int32) (int64, error) {
	var n int64
	err := m.cql.Query(
		`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND is_unread = true ALLOW FILTERING`,
		chatID,
	).WithContext(ctx).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}
