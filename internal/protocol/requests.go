package protocol

// Control-plane methods.
const (
	MethodRegister    = "register"
	MethodLogin       = "login"
	MethodAuth        = "auth"
	MethodSendMessage = "send_message"
	MethodEdit        = "edit"
	MethodDelete      = "delete"
	MethodFetch       = "fetch"
	MethodCheck       = "check"
	MethodBind        = "bind"
	MethodNew         = "new"
	MethodJoin        = "join"

	// MethodJoinGroup tags the success response of a join.
	MethodJoinGroup = "join_group"

	// File-plane methods. MethodFileOperation tags file-plane error frames
	// emitted before the method is known.
	MethodUploadFile    = "upload_file"
	MethodDownloadFile  = "download_file"
	MethodFileOperation = "file_operation"

	// MethodUnknown tags error frames for requests whose method could not
	// be read at all.
	MethodUnknown = "unknown"
)

// Envelope is the first decoding pass over an inbound JSON frame. Exactly
// one of Method or Event is set; typing signals arrive event-shaped.
type Envelope struct {
	Method string `json:"method"`
	Event  string `json:"event"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthRequest doubles as the bind payload; both carry a stored credential.
type AuthRequest struct {
	UserID    int32  `json:"user_id"`
	SessionID string `json:"session_id"`
}

type MessageContent struct {
	Text         string   `json:"text,omitempty"`
	SHA256Hashes []string `json:"sha256_hashes,omitempty"`
}

type SendMessageRequest struct {
	To      int32          `json:"to"`
	ReplyTo *int32         `json:"reply_to,omitempty"`
	Content MessageContent `json:"content"`
}

// EditRequest covers what:"message" (single-message field patch or bulk
// read-marking via MessageIDs), what:"draft" and what:"self". Pointer
// fields distinguish "absent" from "set to zero value".
type EditRequest struct {
	What      string `json:"what"`
	ChatID    int32  `json:"chat_id"`
	MessageID *int32 `json:"message_id,omitempty"`

	MessageIDs   []int32  `json:"message_ids,omitempty"`
	Content      *string  `json:"content,omitempty"`
	SHA256Hashes []string `json:"sha256_hashes,omitempty"`
	ReplyTo      *int32   `json:"reply_to,omitempty"`
	IsUnread     *bool    `json:"is_unread,omitempty"`

	Name        *string `json:"name,omitempty"`
	Username    *string `json:"username,omitempty"`
	PhotoHash   *string `json:"photo_hash,omitempty"`
	OldPassword *string `json:"old_password,omitempty"`
	NewPassword *string `json:"new_password,omitempty"`
}

type DeleteRequest struct {
	ChatID    int32 `json:"chat_id"`
	MessageID int32 `json:"message_id"`
}

type FetchRequest struct {
	What     string    `json:"what"`
	Username string    `json:"username,omitempty"`
	ChatID   int32     `json:"chat_id,omitempty"`
	Range    *[2]int32 `json:"range,omitempty"`
}

type CheckRequest struct {
	What string `json:"what"`
	Data string `json:"data"`
}

type NewRequest struct {
	What       string `json:"what"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
	AvatarHash string `json:"avatar_hash,omitempty"`
	ChatID     int32  `json:"chat_id,omitempty"`
}

type JoinRequest struct {
	Link string `json:"link"`
}

// TypingSignal is the inbound event-shaped typing frame.
type TypingSignal struct {
	ChatID   int32 `json:"chat_id"`
	IsTyping bool  `json:"is_typing"`
}

// UploadFileRequest is the metadata frame opening a file-plane upload.
type UploadFileRequest struct {
	Name     string `json:"name"`
	IsMedia  bool   `json:"is_media"`
	Compress bool   `json:"compress,omitempty"`
}

// DownloadFileRequest is the metadata frame opening a file-plane download.
// Mode is one of preview_only, media_only or full.
type DownloadFileRequest struct {
	SHA256Hash string `json:"sha256_hash"`
	Mode       string `json:"mode"`
}
