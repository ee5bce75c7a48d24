package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/files"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// client is the per-connection dispatcher state. A single reader goroutine
// owns it; only the writer and the mailbox are shared.
type client struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	registry *session.Registry
	store    *files.Store
	stores   Stores

	r    *wire.Reader
	w    *wire.Writer
	conn *session.Conn
	sess *session.Session

	typing      *debouncer
	typingQuiet time.Duration
}

// serveControlPlane runs the JSON request loop. It returns true when the
// connection issued a bind and should continue on the file plane.
func (c *client) serveControlPlane(ctx context.Context) bool {
	for {
		payload, err := c.r.ReadFrame(wire.MaxControlFrame)
		if err != nil {
			var tooBig *wire.FrameTooBigError
			switch {
			case errors.Is(err, wire.ErrZeroSize):
				c.sendError(protocol.MethodUnknown, protocol.ErrZeroFrame)
				continue
			case errors.As(err, &tooBig):
				c.sendError(protocol.MethodUnknown, protocol.ErrFrameTooBig)
				if derr := c.r.Discard(tooBig.Size); derr != nil {
					return false
				}
				continue
			default:
				return false
			}
		}
		c.metrics.FramesTotal.WithLabelValues(metrics.PlaneControl).Inc()

		if !utf8.Valid(payload) {
			c.sendError(protocol.MethodUnknown, protocol.ErrInvalidUTF8)
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.sendError(protocol.MethodUnknown, protocol.ErrBadRequest)
			continue
		}
		if env.Event != "" {
			c.handleTypingSignal(ctx, env.Event, payload)
			continue
		}
		if env.Method == "" {
			c.sendError(protocol.MethodUnknown, protocol.ErrUnknownMethod)
			continue
		}
		if c.dispatch(ctx, env.Method, payload) {
			return true
		}
	}
}

// dispatch routes one control frame. The returned flag requests the switch
// to the file plane after a successful bind.
func (c *client) dispatch(ctx context.Context, method string, payload []byte) bool {
	switch method {
	case protocol.MethodRegister, protocol.MethodLogin, protocol.MethodAuth, protocol.MethodBind:
		// these carry their own credentials
	default:
		if !c.sess.IsAuthenticated() {
			c.sendError(method, protocol.ErrNotAuthenticated)
			return false
		}
	}

	var (
		resp any
		err  error
	)
	switch method {
	case protocol.MethodRegister:
		resp, err = c.handleRegister(ctx, payload)
	case protocol.MethodLogin:
		resp, err = c.handleLogin(ctx, payload)
	case protocol.MethodAuth:
		resp, err = c.handleAuth(ctx, payload)
	case protocol.MethodBind:
		resp, err = c.handleBind(ctx, payload)
	case protocol.MethodSendMessage:
		resp, err = c.handleSendMessage(ctx, payload)
	case protocol.MethodEdit:
		resp, err = c.handleEdit(ctx, payload)
	case protocol.MethodDelete:
		resp, err = c.handleDelete(ctx, payload)
	case protocol.MethodFetch:
		resp, err = c.handleFetch(ctx, payload)
	case protocol.MethodCheck:
		resp, err = c.handleCheck(ctx, payload)
	case protocol.MethodNew:
		resp, err = c.handleNew(ctx, payload)
	case protocol.MethodJoin:
		resp, err = c.handleJoin(ctx, payload)
	default:
		err = protocol.ErrUnknownMethod
	}
	if err != nil {
		c.fail(method, err)
		return false
	}
	c.send(resp)
	return method == protocol.MethodBind
}

// userID returns the authenticated user; dispatch gates handlers so the
// credential is always present when this runs.
func (c *client) userID() int32 {
	id, _, _ := c.sess.Credentials()
	return id
}

func (c *client) send(resp any) {
	if err := c.w.WriteJSON(resp); err != nil {
		c.log.Debug().Err(err).Msg("response write failed")
	}
}

func (c *client) sendError(method string, perr *protocol.Error) {
	c.send(protocol.ErrorOf(method, perr))
}

// fail converts a handler error into a single error frame. Anything that is
// not a protocol error is logged verbatim and masked as internal.
func (c *client) fail(method string, err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		c.log.Error().Err(err).Str("method", method).Msg("handler failure")
		perr = protocol.ErrInternal
	}
	c.sendError(method, perr)
}

// shutdown releases per-connection helpers on any exit path.
func (c *client) shutdown() {
	if c.typing != nil {
		c.typing.close()
	}
}
