package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// Chat is the stored chat row. Group chats carry negative ids; the sign is
// the only group/private discriminator on the wire.
type Chat struct {
	ID             int32
	IsGroup        bool
	Participants   []int32
	Name           string
	AvatarHash     string
	Tag            string
	InvitationHash string
}

// Chats gates the chats table.
type Chats struct {
	cql *gocql.Session
}

const chatColumns = "id, is_group, participants, name, avatar_hash, tag, invitation_hash"

// CreatePrivate inserts a two-participant chat under a random positive id.
func (c *Chats) CreatePrivate(ctx context.Context, a, b int32) (*Chat, error) {
	chat := &Chat{Participants: []int32{a, b}}
	for {
		chat.ID = randomPositiveID()
		applied, err := c.insert(ctx, chat)
		if err != nil {
			return nil, err
		}
		if applied {
			return chat, nil
		}
	}
}

// CreateGroup inserts a group chat under a random negative id with the
// owner as the sole participant.
func (c *Chats) CreateGroup(ctx context.Context, owner int32, name, tag, avatarHash string) (*Chat, error) {
	chat := &Chat{
		IsGroup:      true,
		Participants: []int32{owner},
		Name:         name,
		Tag:          tag,
		AvatarHash:   avatarHash,
	}
	for {
		chat.ID = -randomPositiveID()
		applied, err := c.insert(ctx, chat)
		if err != nil {
			return nil, err
		}
		if applied {
			return chat, nil
		}
	}
}

func (c *Chats) insert(ctx context.Context, chat *Chat) (bool, error) {
	applied, err := c.cql.Query(
		`INSERT INTO chats (id, is_group, participants, name, avatar_hash, tag, invitation_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		chat.ID, chat.IsGroup, chat.Participants, chat.Name, chat.AvatarHash, chat.Tag, "",
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("insert chat: %w", err)
	}
	return applied, nil
}

func (c *Chats) AddParticipant(ctx context.Context, chatID, userID int32) error {
	err := c.cql.Query(`UPDATE chats SET participants = participants + ? WHERE id = ?`,
		[]int32{userID}, chatID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (c *Chats) Exists(ctx context.Context, chatID int32) (bool, error) {
	var id int32
	err := c.cql.Query(`SELECT id FROM chats WHERE id = ?`, chatID).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check chat: %w", err)
	}
	return true, nil
}

func (c *Chats) Fetch(ctx context.Context, chatID int32) (*Chat, error) {
	chat := &Chat{}
	err := c.cql.Query(`SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID).
		WithContext(ctx).
		Scan(&chat.ID, &chat.IsGroup, &chat.Participants, &chat.Name,
			&chat.AvatarHash, &chat.Tag, &chat.InvitationHash)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch chat: %w", err)
	}
	return chat, nil
}

// CreateInvitationHash stores a fresh link on the chat row, replacing any
// previous one. Old links stop resolving.
func (c *Chats) CreateInvitationHash(ctx context.Context, chatID int32) (string, error) {
	link := NewInvitationLink()
	err := c.cql.Query(`UPDATE chats SET invitation_hash = ? WHERE id = ?`, link, chatID).
		WithContext(ctx).Exec()
	if err != nil {
		return "", fmt.Errorf("store invitation: %w", err)
	}
	return link, nil
}

// ByInvitationHash resolves a '+' link through the secondary index.
func (c *Chats) ByInvitationHash(ctx context.Context, link string) (*Chat, error) {
	chat := &Chat{}
	err := c.cql.Query(`SELECT `+chatColumns+` FROM chats WHERE invitation_hash = ? LIMIT 1`, link).
		WithContext(ctx).
		Scan(&chat.ID, &chat.IsGroup, &chat.Participants, &chat.Name,
			&chat.AvatarHash, &chat.Tag, &chat.InvitationHash)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve invitation: %w", err)
	}
	return chat, nil
}
