package protocol

// Kind classifies a client-visible failure. It never reaches the wire; only
// Message does. Logging and tests branch on it.
type Kind int

const (
	KindFrame Kind = iota
	KindJSON
	KindAuth
	KindValidation
	KindNotFound
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindJSON:
		return "json"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a protocol failure whose Message is sent to the client verbatim
// inside an {ok:false, method, error} frame. Anything that is not an *Error
// is an internal fault: the dispatcher logs it and the client sees
// ErrInternal instead.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Client-visible failures with their exact wire strings.
var (
	ErrZeroFrame          = &Error{KindFrame, "Message size cannot be 0"}
	ErrFrameTooBig        = &Error{KindFrame, "Message is too big!"}
	ErrInvalidUTF8        = &Error{KindFrame, "Invalid UTF-8!"}
	ErrBadRequest         = &Error{KindJSON, "Invalid request!"}
	ErrUnknownMethod      = &Error{KindJSON, "Unknown method!"}
	ErrNotAuthenticated   = &Error{KindAuth, "You aren't authenticated!"}
	ErrInvalidCredentials = &Error{KindAuth, "Invalid credentials!"}
	ErrInvalidUsername    = &Error{KindValidation, "Invalid username!"}
	ErrInvalidName        = &Error{KindValidation, "Invalid name!"}
	ErrSelfMessage        = &Error{KindValidation, "You cannot send messages to yourself!"}
	ErrInvalidInvitation  = &Error{KindValidation, "Invalid invitation link!"}
	ErrMediaUnsupported   = &Error{KindValidation, "Media type not supported!"}
	ErrChatNotFound       = &Error{KindNotFound, "Chat not found!"}
	ErrUserNotFound       = &Error{KindNotFound, "User not found!"}
	ErrMessageNotFound    = &Error{KindNotFound, "Message not found!"}
	ErrHashNotFound       = &Error{KindNotFound, "Hash not found!"}
	ErrPreviewNotFound    = &Error{KindNotFound, "Preview not found!"}
	ErrUsernameTaken      = &Error{KindConflict, "Username already taken"}
	ErrAlreadyJoined      = &Error{KindConflict, "You have already joined this chat!"}
	ErrInternal           = &Error{KindStorage, "Internal error."}
)
