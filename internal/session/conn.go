package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// SendTimeout bounds how long an event enqueue may block on a full mailbox.
const SendTimeout = 50 * time.Millisecond

// MailboxSize is the outbound event buffer per connection.
const MailboxSize = 10

// Conn is one connected transport: a shared frame writer plus a bounded
// mailbox drained by a dedicated goroutine. Responses go through the writer
// directly; events go through the mailbox.
type Conn struct {
	id      uint64
	remote  string
	w       *wire.Writer
	mailbox chan protocol.Event
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

func (c *Conn) ID() uint64     { return c.id }
func (c *Conn) Remote() string { return c.remote }

// Enqueue offers an event to the mailbox, blocking at most SendTimeout.
// Returns false when the event was dropped or the mailbox is already closed.
func (c *Conn) Enqueue(ev protocol.Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.mailbox <- ev:
		return true
	case <-time.After(SendTimeout):
		c.log.Debug().Uint64("conn_id", c.id).Str("event", ev.Event).Msg("mailbox full, event dropped")
		return false
	}
}

// Close shuts the mailbox. Pending events are still flushed; concurrent
// Enqueue calls turn into drops. Idempotent.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.mailbox) })
}

// Done is closed once the drain goroutine has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) drain() {
	defer close(c.done)
	for ev := range c.mailbox {
		if err := c.w.WriteJSON(ev); err != nil {
			c.log.Debug().Uint64("conn_id", c.id).Err(err).Msg("event write failed")
			return
		}
	}
}
