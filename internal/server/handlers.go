package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
)

func decode[T any](payload []byte) (*T, error) {
	req := new(T)
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, protocol.ErrBadRequest
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

func (c *client) handleRegister(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.RegisterRequest](payload)
	if err != nil {
		return nil, err
	}
	name, err := protocol.ValidateName(req.Name)
	if err != nil {
		return nil, err
	}
	username, err := protocol.ValidateUsername(req.Username)
	if err != nil {
		return nil, err
	}

	user, token, err := c.stores.Users().Register(ctx, name, username, req.Password)
	if errors.Is(err, db.ErrUsernameTaken) {
		return nil, protocol.ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}

	c.sess = c.registry.Attach(user.ID, token, c.sess, c.conn)
	c.log.Info().Int32("user_id", user.ID).Str("username", username).Msg("user registered")
	return protocol.CredentialsResponse{
		Ack:       protocol.AckOf(protocol.MethodRegister),
		UserID:    user.ID,
		SessionID: token,
	}, nil
}

func (c *client) handleLogin(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.LoginRequest](payload)
	if err != nil {
		return nil, err
	}
	user, token, err := c.stores.Users().Login(ctx, req.Username, req.Password)
	if errors.Is(err, db.ErrWrongCredentials) {
		return nil, protocol.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	c.sess = c.registry.Attach(user.ID, token, c.sess, c.conn)
	c.log.Info().Int32("user_id", user.ID).Msg("user logged in")
	return protocol.CredentialsResponse{
		Ack:       protocol.AckOf(protocol.MethodLogin),
		UserID:    user.ID,
		SessionID: token,
	}, nil
}

func (c *client) handleAuth(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.AuthRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := c.verifyCredentials(ctx, req); err != nil {
		return nil, err
	}
	return protocol.AckOf(protocol.MethodAuth), nil
}

// handleBind attaches this connection to an existing identity; dispatch
// switches it to the file plane on success.
func (c *client) handleBind(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.AuthRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := c.verifyCredentials(ctx, req); err != nil {
		return nil, err
	}
	return protocol.AckOf(protocol.MethodBind), nil
}

func (c *client) verifyCredentials(ctx context.Context, req *protocol.AuthRequest) error {
	err := c.stores.Users().Auth(ctx, req.UserID, req.SessionID)
	if errors.Is(err, db.ErrWrongCredentials) {
		return protocol.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	c.sess = c.registry.Attach(req.UserID, req.SessionID, c.sess, c.conn)
	return nil
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

func (c *client) handleSendMessage(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.SendMessageRequest](payload)
	if err != nil {
		return nil, err
	}
	self := c.userID()
	if req.To == self {
		return nil, protocol.ErrSelfMessage
	}

	chat, created, err := c.resolveOrCreateChat(ctx, self, req.To)
	if err != nil {
		return nil, err
	}
	msg, err := c.stores.Messages().Add(ctx, chat.ID, self, req.Content.Text, req.Content.SHA256Hashes, req.ReplyTo)
	if err != nil {
		return nil, err
	}
	c.metrics.MessagesStored.Inc()

	if created {
		c.announceNewChat(ctx, chat, self)
	}
	c.fanout(chat, self, func(view int32) protocol.Event {
		return protocol.NewEvent(protocol.EventNewMessage, wireMessage(msg, view))
	})

	return protocol.SendMessageResponse{
		Ack:       protocol.AckOf(protocol.MethodSendMessage),
		MessageID: msg.ID,
		ChatID:    req.To,
	}, nil
}

// resolveOrCreateChat maps the caller's view chat id onto the stored chat,
// creating the private chat (and both view links) on the first message to a
// peer.
func (c *client) resolveOrCreateChat(ctx context.Context, self, view int32) (*db.Chat, bool, error) {
	real, err := c.stores.Users().AssociatedChatID(ctx, self, view)
	if err == nil {
		chat, err := c.fetchChat(ctx, real)
		return chat, false, err
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}
	if view <= 0 {
		// groups are never created implicitly
		return nil, false, protocol.ErrChatNotFound
	}

	if _, err := c.stores.Users().FetchUser(ctx, view); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, false, protocol.ErrUserNotFound
		}
		return nil, false, err
	}
	chat, err := c.stores.Chats().CreatePrivate(ctx, self, view)
	if err != nil {
		return nil, false, err
	}
	if err := c.stores.Users().AddChat(ctx, self, view, chat.ID); err != nil {
		return nil, false, err
	}
	if err := c.stores.Users().AddChat(ctx, view, self, chat.ID); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

func (c *client) handleEdit(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.EditRequest](payload)
	if err != nil {
		return nil, err
	}
	switch req.What {
	case "message":
		if err := c.editMessage(ctx, req); err != nil {
			return nil, err
		}
	case "draft":
		if err := c.editDraft(ctx, req); err != nil {
			return nil, err
		}
	case "self":
		if err := c.editSelf(ctx, req); err != nil {
			return nil, err
		}
	default:
		return nil, protocol.ErrBadRequest
	}
	return protocol.AckOf(protocol.MethodEdit), nil
}

func (c *client) editMessage(ctx context.Context, req *protocol.EditRequest) error {
	self := c.userID()
	real, err := c.realChatID(ctx, self, req.ChatID)
	if err != nil {
		return err
	}

	// bulk read-marking: no edited flag, no event
	if len(req.MessageIDs) > 0 {
		if req.IsUnread == nil || *req.IsUnread {
			return protocol.ErrBadRequest
		}
		return c.stores.Messages().MarkAsRead(ctx, real, req.MessageIDs)
	}
	if req.MessageID == nil {
		return protocol.ErrBadRequest
	}

	patched := req.Content != nil || req.SHA256Hashes != nil || req.ReplyTo != nil
	if patched {
		msg, err := c.stores.Messages().Edit(ctx, real, *req.MessageID, db.MessagePatch{
			Content: req.Content,
			Hashes:  req.SHA256Hashes,
			ReplyTo: req.ReplyTo,
		})
		if errors.Is(err, db.ErrNotFound) {
			return protocol.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		chat, err := c.fetchChat(ctx, real)
		if err != nil {
			return err
		}
		c.fanout(chat, self, func(view int32) protocol.Event {
			return protocol.NewEvent(protocol.EventEditMessage, wireMessage(msg, view))
		})
	}
	if req.IsUnread != nil && !*req.IsUnread {
		if err := c.stores.Messages().MarkAsRead(ctx, real, []int32{*req.MessageID}); err != nil {
			return err
		}
	}
	if !patched && req.IsUnread == nil {
		return protocol.ErrBadRequest
	}
	return nil
}

func (c *client) editDraft(ctx context.Context, req *protocol.EditRequest) error {
	self := c.userID()
	real, err := c.realChatID(ctx, self, req.ChatID)
	if err != nil {
		return err
	}
	content := ""
	if req.Content != nil {
		content = *req.Content
	}
	return c.stores.Drafts().Update(ctx, self, real, content)
}

func (c *client) editSelf(ctx context.Context, req *protocol.EditRequest) error {
	self := c.userID()
	users := c.stores.Users()
	changed := false

	if req.Name != nil {
		name, err := protocol.ValidateName(*req.Name)
		if err != nil {
			return err
		}
		if err := users.UpdateName(ctx, self, name); err != nil {
			return err
		}
		changed = true
	}
	if req.Username != nil {
		username, err := protocol.ValidateUsername(*req.Username)
		if err != nil {
			return err
		}
		taken, err := users.UsernameExists(ctx, username)
		if err != nil {
			return err
		}
		if taken {
			return protocol.ErrUsernameTaken
		}
		if err := users.UpdateUsername(ctx, self, username); err != nil {
			return err
		}
		changed = true
	}
	if req.PhotoHash != nil {
		if err := users.UpdatePhoto(ctx, self, *req.PhotoHash); err != nil {
			return err
		}
		changed = true
	}
	if req.NewPassword != nil {
		if req.OldPassword == nil {
			return protocol.ErrBadRequest
		}
		err := users.UpdatePassword(ctx, self, *req.OldPassword, *req.NewPassword)
		if errors.Is(err, db.ErrWrongCredentials) {
			return protocol.ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return protocol.ErrBadRequest
	}
	return nil
}

func (c *client) handleDelete(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.DeleteRequest](payload)
	if err != nil {
		return nil, err
	}
	self := c.userID()
	real, err := c.realChatID(ctx, self, req.ChatID)
	if err != nil {
		return nil, err
	}
	if err := c.stores.Messages().Delete(ctx, real, req.MessageID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, protocol.ErrMessageNotFound
		}
		return nil, err
	}
	chat, err := c.fetchChat(ctx, real)
	if err != nil {
		return nil, err
	}
	c.fanout(chat, self, func(view int32) protocol.Event {
		return protocol.NewEvent(protocol.EventDeleteMessage, protocol.DeleteMessageEvent{
			ChatID:    view,
			MessageID: req.MessageID,
		})
	})
	return protocol.AckOf(protocol.MethodDelete), nil
}

// ---------------------------------------------------------------------------
// Fetch / check
// ---------------------------------------------------------------------------

func (c *client) handleFetch(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.FetchRequest](payload)
	if err != nil {
		return nil, err
	}
	self := c.userID()

	switch req.What {
	case "chats":
		return c.fetchChatList(ctx, self)
	case "self":
		user, err := c.stores.Users().FetchUser(ctx, self)
		if err != nil {
			return nil, err
		}
		return protocol.UserResponse{Ack: protocol.AckOf(protocol.MethodFetch), User: userDetails(user)}, nil
	case "user":
		user, err := c.stores.Users().FetchByUsername(ctx, req.Username)
		if errors.Is(err, db.ErrNotFound) {
			return nil, protocol.ErrUserNotFound
		}
		if err != nil {
			return nil, err
		}
		return protocol.UserResponse{Ack: protocol.AckOf(protocol.MethodFetch), User: userDetails(user)}, nil
	case "messages":
		if req.Range == nil {
			return nil, protocol.ErrBadRequest
		}
		real, err := c.realChatID(ctx, self, req.ChatID)
		if err != nil {
			return nil, err
		}
		msgs, err := c.stores.Messages().Fetch(ctx, real, req.Range[0], req.Range[1])
		if err != nil {
			return nil, err
		}
		out := make([]protocol.Message, 0, len(msgs))
		for i := range msgs {
			out = append(out, wireMessage(&msgs[i], req.ChatID))
		}
		return protocol.MessagesResponse{Ack: protocol.AckOf(protocol.MethodFetch), Messages: out}, nil
	case "draft":
		real, err := c.realChatID(ctx, self, req.ChatID)
		if err != nil {
			return nil, err
		}
		draft, err := c.stores.Drafts().Fetch(ctx, self, real)
		if err != nil {
			return nil, err
		}
		return protocol.DraftResponse{Ack: protocol.AckOf(protocol.MethodFetch), Draft: draft}, nil
	default:
		return nil, protocol.ErrBadRequest
	}
}

func (c *client) fetchChatList(ctx context.Context, self int32) (any, error) {
	links, err := c.stores.Users().FetchChats(ctx, self)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.ChatDetails, 0, len(links))
	for _, link := range links {
		chat, err := c.fetchChat(ctx, link.Real)
		if err != nil {
			return nil, err
		}
		details, err := c.chatDetails(ctx, chat, self)
		if err != nil {
			return nil, err
		}
		details.ChatID = link.View
		if details.UnreadCount, err = c.stores.Messages().UnreadCount(ctx, link.Real); err != nil {
			return nil, err
		}
		if details.Draft, err = c.stores.Drafts().Fetch(ctx, self, link.Real); err != nil {
			return nil, err
		}
		out = append(out, details)
	}
	return protocol.ChatsResponse{Ack: protocol.AckOf(protocol.MethodFetch), Chats: out}, nil
}

func (c *client) handleCheck(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.CheckRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.What != "username" {
		return nil, protocol.ErrBadRequest
	}
	taken, err := c.stores.Users().UsernameExists(ctx, req.Data)
	if err != nil {
		return nil, err
	}
	// ok mirrors "is taken" here; it is not an error flag
	return protocol.Ack{Ok: taken, Method: protocol.MethodCheck}, nil
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

func (c *client) handleNew(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.NewRequest](payload)
	if err != nil {
		return nil, err
	}
	self := c.userID()

	switch req.What {
	case "group":
		name, err := protocol.ValidateName(req.Name)
		if err != nil {
			return nil, err
		}
		tag := ""
		if req.Username != "" {
			if tag, err = protocol.ValidateUsername(req.Username); err != nil {
				return nil, err
			}
		}
		chat, err := c.stores.Chats().CreateGroup(ctx, self, name, tag, req.AvatarHash)
		if err != nil {
			return nil, err
		}
		if err := c.stores.Users().AddChat(ctx, self, chat.ID, chat.ID); err != nil {
			return nil, err
		}
		c.log.Info().Int32("chat_id", chat.ID).Int32("user_id", self).Msg("group created")
		return protocol.NewGroupResponse{Ack: protocol.AckOf(protocol.MethodNew), ChatID: chat.ID}, nil

	case "invitation_link":
		real, err := c.realChatID(ctx, self, req.ChatID)
		if err != nil {
			return nil, err
		}
		chat, err := c.fetchChat(ctx, real)
		if err != nil {
			return nil, err
		}
		if !chat.IsGroup {
			return nil, protocol.ErrChatNotFound
		}
		link, err := c.stores.Chats().CreateInvitationHash(ctx, real)
		if err != nil {
			return nil, err
		}
		return protocol.InvitationResponse{Ack: protocol.AckOf(protocol.MethodNew), Link: link}, nil

	default:
		return nil, protocol.ErrBadRequest
	}
}

func (c *client) handleJoin(ctx context.Context, payload []byte) (any, error) {
	req, err := decode[protocol.JoinRequest](payload)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.Link, "+") || len(req.Link) < 2 {
		return nil, protocol.ErrInvalidInvitation
	}
	self := c.userID()

	chat, err := c.stores.Chats().ByInvitationHash(ctx, req.Link)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, p := range chat.Participants {
		if p == self {
			return nil, protocol.ErrAlreadyJoined
		}
	}

	if err := c.stores.Chats().AddParticipant(ctx, chat.ID, self); err != nil {
		return nil, err
	}
	if err := c.stores.Users().AddChat(ctx, self, chat.ID, chat.ID); err != nil {
		return nil, err
	}

	joiner, err := c.stores.Users().FetchUser(ctx, self)
	if err != nil {
		return nil, err
	}
	c.fanout(chat, self, func(view int32) protocol.Event {
		return protocol.NewEvent(protocol.EventNewParticipant, protocol.NewParticipantEvent{
			ChatID: view,
			User:   userDetails(joiner),
		})
	})

	chat.Participants = append(chat.Participants, self)
	details, err := c.chatDetails(ctx, chat, self)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int32("chat_id", chat.ID).Int32("user_id", self).Msg("user joined group")
	return protocol.JoinResponse{Ack: protocol.AckOf(protocol.MethodJoinGroup), Chat: details}, nil
}

// ---------------------------------------------------------------------------
// Shared lookups and projections
// ---------------------------------------------------------------------------

func (c *client) realChatID(ctx context.Context, self, view int32) (int32, error) {
	real, err := c.stores.Users().AssociatedChatID(ctx, self, view)
	if errors.Is(err, db.ErrNotFound) {
		return 0, protocol.ErrChatNotFound
	}
	return real, err
}

func (c *client) fetchChat(ctx context.Context, real int32) (*db.Chat, error) {
	chat, err := c.stores.Chats().Fetch(ctx, real)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.ErrChatNotFound
	}
	return chat, err
}

// announceNewChat pushes a new_chat event to every participant but the
// creator, each seeing the chat from their own side.
func (c *client) announceNewChat(ctx context.Context, chat *db.Chat, creator int32) {
	for _, p := range chat.Participants {
		if p == creator {
			continue
		}
		details, err := c.chatDetails(ctx, chat, p)
		if err != nil {
			c.log.Warn().Err(err).Int32("user_id", p).Msg("new chat event skipped")
			continue
		}
		c.registry.SendTo(p, protocol.NewEvent(protocol.EventNewChat, details))
	}
}

// fanout delivers one event to every participant except `except`, with the
// chat id rewritten to each recipient's view.
func (c *client) fanout(chat *db.Chat, except int32, build func(view int32) protocol.Event) {
	for _, p := range chat.Participants {
		if p == except {
			continue
		}
		c.registry.SendTo(p, build(viewFor(chat, p)))
	}
}

// viewFor maps a stored chat onto the id a given participant addresses it
// by: the peer's user id for private chats, the (negative) chat id for
// groups.
func viewFor(chat *db.Chat, viewer int32) int32 {
	if chat.IsGroup {
		return chat.ID
	}
	for _, p := range chat.Participants {
		if p != viewer {
			return p
		}
	}
	return chat.ID
}

// chatDetails projects a chat for one viewer. Private chats borrow the
// peer's identity; groups carry their own (tag serialized as username,
// avatar as photo_hash).
func (c *client) chatDetails(ctx context.Context, chat *db.Chat, viewer int32) (protocol.ChatDetails, error) {
	details := protocol.ChatDetails{
		ChatID:       chat.ID,
		IsGroup:      chat.IsGroup,
		Participants: chat.Participants,
	}
	if chat.IsGroup {
		details.Name = chat.Name
		details.Username = chat.Tag
		details.PhotoHash = chat.AvatarHash
		return details, nil
	}

	peer := viewFor(chat, viewer)
	details.ChatID = peer
	user, err := c.stores.Users().FetchUser(ctx, peer)
	if err != nil {
		return details, err
	}
	details.Name = user.Name
	details.Username = user.Username
	details.PhotoHash = user.PhotoHash
	return details, nil
}

func userDetails(u *db.User) protocol.UserDetails {
	return protocol.UserDetails{
		UserID:    u.ID,
		Name:      u.Name,
		Username:  u.Username,
		PhotoHash: u.PhotoHash,
	}
}

// wireMessage projects a stored message for one recipient's view chat id.
func wireMessage(m *db.Message, view int32) protocol.Message {
	out := protocol.Message{
		MessageID:    m.ID,
		ChatID:       view,
		FromID:       m.FromID,
		Date:         m.Date,
		IsUnread:     m.IsUnread,
		Content:      m.Content,
		SHA256Hashes: m.Hashes,
		Edited:       m.Edited,
	}
	if m.HasReply() {
		reply := m.ReplyTo
		out.ReplyTo = &reply
	}
	return out
}
