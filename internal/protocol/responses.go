package protocol

// Ack is the common success envelope; responses with payloads embed it so
// the ok/method pair marshals flat.
type Ack struct {
	Ok     bool   `json:"ok"`
	Method string `json:"method"`
}

func AckOf(method string) Ack { return Ack{Ok: true, Method: method} }

// ErrorResponse is the single error frame shape used on both planes.
type ErrorResponse struct {
	Ok     bool   `json:"ok"`
	Method string `json:"method"`
	Error  string `json:"error"`
}

func ErrorOf(method string, err *Error) ErrorResponse {
	return ErrorResponse{Ok: false, Method: method, Error: err.Message}
}

// CredentialsResponse answers register and login.
type CredentialsResponse struct {
	Ack
	UserID    int32  `json:"user_id"`
	SessionID string `json:"session_id"`
}

type SendMessageResponse struct {
	Ack
	MessageID int32 `json:"message_id"`
	ChatID    int32 `json:"chat_id"`
}

type ChatsResponse struct {
	Ack
	Chats []ChatDetails `json:"chats"`
}

type UserResponse struct {
	Ack
	User UserDetails `json:"user"`
}

type MessagesResponse struct {
	Ack
	Messages []Message `json:"messages"`
}

type DraftResponse struct {
	Ack
	Draft string `json:"draft"`
}

type NewGroupResponse struct {
	Ack
	ChatID int32 `json:"chat_id"`
}

type InvitationResponse struct {
	Ack
	Link string `json:"link"`
}

// JoinResponse carries method "join_group" on success.
type JoinResponse struct {
	Ack
	Chat ChatDetails `json:"chat"`
}

type UploadFileResponse struct {
	Ack
	SHA256Hash string `json:"sha256_hash"`
}

// FileMetadata describes one file body that will follow the download
// response. file_path stays server-internal.
type FileMetadata struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type DownloadFileResponse struct {
	Ack
	Metadatas []FileMetadata `json:"metadatas"`
}
