package protocol

// Realtime event names pushed to connected recipients.
const (
	EventNewMessage     = "new_message"
	EventNewChat        = "new_chat"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventNewParticipant = "new_participant"
	EventIsTyping       = "is_typing"
)

// Event is the envelope placed on connection mailboxes and framed to the
// wire as-is.
type Event struct {
	Ok    bool   `json:"ok"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func NewEvent(name string, data any) Event {
	return Event{Ok: true, Event: name, Data: data}
}

type DeleteMessageEvent struct {
	ChatID    int32 `json:"chat_id"`
	MessageID int32 `json:"message_id"`
}

type NewParticipantEvent struct {
	ChatID int32       `json:"chat_id"`
	User   UserDetails `json:"user"`
}

type TypingEvent struct {
	ChatID   int32 `json:"chat_id"`
	FromID   int32 `json:"from_id"`
	IsTyping bool  `json:"is_typing"`
}
