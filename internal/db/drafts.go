package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// Drafts gates the per-(user, chat) draft table.
type Drafts struct {
	cql *gocql.Session
}

// Update upserts the draft; writing the same content twice is a no-op
// observationally.
func (d *Drafts) Update(ctx context.Context, userID, chatID int32, content string) error {
	err := d.cql.Query(`INSERT INTO drafts (user_id, chat_id, content) VALUES (?, ?, ?)`,
		userID, chatID, content).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	return nil
}

// Fetch returns the stored draft, empty string when none exists.
func (d *Drafts) Fetch(ctx context.Context, userID, chatID int32) (string, error) {
	var content string
	err := d.cql.Query(`SELECT content FROM drafts WHERE user_id = ? AND chat_id = ?`,
		userID, chatID).WithContext(ctx).Scan(&content)
	if err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("fetch draft: %w", err)
	}
	return content, nil
}
