package protocol

// Message as serialized to clients. ChatID carries the requesting user's
// view chat id, not the storage key; handlers rewrite it per recipient.
type Message struct {
	MessageID    int32    `json:"message_id"`
	ChatID       int32    `json:"chat_id"`
	FromID       int32    `json:"from_id"`
	Date         int64    `json:"date"`
	IsUnread     bool     `json:"is_unread"`
	ReplyTo      *int32   `json:"reply_to,omitempty"`
	Content      string   `json:"content,omitempty"`
	SHA256Hashes []string `json:"sha256_hashes,omitempty"`
	Edited       bool     `json:"edited"`
}

// ChatDetails describes one entry of a user's chat list. For private chats
// the name, username and photo are the peer's; for groups they are the
// group's name, tag and avatar.
type ChatDetails struct {
	ChatID       int32   `json:"chat_id"`
	IsGroup      bool    `json:"is_group"`
	Name         string  `json:"name"`
	Username     string  `json:"username,omitempty"`
	PhotoHash    string  `json:"photo_hash,omitempty"`
	UnreadCount  int64   `json:"unread_count"`
	Draft        string  `json:"draft,omitempty"`
	Participants []int32 `json:"participants"`
}

// UserDetails is the public projection of a user row. Password verifier and
// session tokens are never serialized.
type UserDetails struct {
	UserID    int32  `json:"user_id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	PhotoHash string `json:"photo_hash,omitempty"`
}
