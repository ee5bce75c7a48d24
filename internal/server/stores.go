package server

import (
	"context"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/files"
)

// UserStore is the slice of the users gateway the dispatcher consumes.
type UserStore interface {
	Register(ctx context.Context, name, username, password string) (*db.User, string, error)
	Login(ctx context.Context, username, password string) (*db.User, string, error)
	Auth(ctx context.Context, id int32, token string) error
	UsernameExists(ctx context.Context, username string) (bool, error)
	FetchUser(ctx context.Context, id int32) (*db.User, error)
	FetchByUsername(ctx context.Context, username string) (*db.User, error)
	FetchChats(ctx context.Context, id int32) ([]db.ChatLink, error)
	AddChat(ctx context.Context, owner, view, real int32) error
	AssociatedChatID(ctx context.Context, owner, view int32) (int32, error)
	UpdateName(ctx context.Context, id int32, name string) error
	UpdateUsername(ctx context.Context, id int32, username string) error
	UpdatePhoto(ctx context.Context, id int32, photoHash string) error
	UpdatePassword(ctx context.Context, id int32, oldPassword, newPassword string) error
}

type ChatStore interface {
	CreatePrivate(ctx context.Context, a, b int32) (*db.Chat, error)
	CreateGroup(ctx context.Context, owner int32, name, tag, avatarHash string) (*db.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID int32) error
	Fetch(ctx context.Context, chatID int32) (*db.Chat, error)
	CreateInvitationHash(ctx context.Context, chatID int32) (string, error)
	ByInvitationHash(ctx context.Context, link string) (*db.Chat, error)
}

type MessageStore interface {
	Add(ctx context.Context, chatID, fromID int32, content string, hashes []string, replyTo *int32) (*db.Message, error)
	Fetch(ctx context.Context, chatID, start, end int32) ([]db.Message, error)
	MarkAsRead(ctx context.Context, chatID int32, ids []int32) error
	Edit(ctx context.Context, chatID, id int32, patch db.MessagePatch) (*db.Message, error)
	Delete(ctx context.Context, chatID, id int32) error
	UnreadCount(ctx context.Context, chatID int32) (int64, error)
}

type DraftStore interface {
	Update(ctx context.Context, userID, chatID int32, content string) error
	Fetch(ctx context.Context, userID, chatID int32) (string, error)
}

// Stores resolves the typed gateways bound to one connection's bucket.
type Stores interface {
	Users() UserStore
	Chats() ChatStore
	Messages() MessageStore
	Drafts() DraftStore
	Hashes() files.HashIndex
}

// bucketStores adapts a pool bucket into the Stores surface.
type bucketStores struct {
	bucket *db.Bucket
}

func (s bucketStores) Users() UserStore        { return db.For(s.bucket).Users() }
func (s bucketStores) Chats() ChatStore        { return db.For(s.bucket).Chats() }
func (s bucketStores) Messages() MessageStore  { return db.For(s.bucket).Messages() }
func (s bucketStores) Drafts() DraftStore      { return db.For(s.bucket).Drafts() }
func (s bucketStores) Hashes() files.HashIndex { return db.For(s.bucket).Hashes() }
