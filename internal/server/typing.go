package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
)

// typingQuiet is the keystroke quiet window: an envelope closes with
// is_typing=false once no fresh signal arrived for this long.
const typingQuiet = 1000 * time.Millisecond

type typingTarget struct {
	userID int32
	view   int32
}

// typingSignal is one debouncer input: a keystroke signal plus the
// recipients it fans out to, with per-recipient view chat ids precomputed.
type typingSignal struct {
	chatID   int32 // real chat id, envelope identity
	fromID   int32
	isTyping bool
	targets  []typingTarget
}

// debouncer collapses raw keystroke signals into an on/quiet-off envelope
// per chat. One per control connection, consumed by a single goroutine.
type debouncer struct {
	registry *session.Registry
	quiet    time.Duration
	signals  chan typingSignal
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newDebouncer(reg *session.Registry, quiet time.Duration) *debouncer {
	d := &debouncer{
		registry: reg,
		quiet:    quiet,
		signals:  make(chan typingSignal, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// offer never blocks; keystroke signals are disposable.
func (d *debouncer) offer(sig typingSignal) {
	select {
	case d.signals <- sig:
	default:
	}
}

// close ends the consumer, closing a still-open envelope first. Idempotent.
func (d *debouncer) close() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}

func (d *debouncer) run() {
	defer close(d.done)

	timer := time.NewTimer(d.quiet)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	disarm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	var (
		active  bool
		current typingSignal
	)
	endEnvelope := func() {
		current.isTyping = false
		d.broadcast(current)
		active = false
	}

	for {
		select {
		case <-d.stop:
			if active {
				disarm()
				endEnvelope()
			}
			return

		case sig := <-d.signals:
			switch {
			case active && sig.isTyping && sig.chatID == current.chatID:
				// keystroke refresh, silent
				disarm()
				timer.Reset(d.quiet)
			case active:
				// explicit stop or another chat ends the open envelope
				disarm()
				endEnvelope()
				if sig.isTyping {
					d.broadcast(sig)
					current = sig
					active = true
					timer.Reset(d.quiet)
				}
			case sig.isTyping:
				d.broadcast(sig)
				current = sig
				active = true
				timer.Reset(d.quiet)
			}

		case <-timer.C:
			if active {
				endEnvelope()
			}
		}
	}
}

func (d *debouncer) broadcast(sig typingSignal) {
	for _, t := range sig.targets {
		d.registry.SendTo(t.userID, protocol.NewEvent(protocol.EventIsTyping, protocol.TypingEvent{
			ChatID:   t.view,
			FromID:   sig.fromID,
			IsTyping: sig.isTyping,
		}))
	}
}

// handleTypingSignal feeds an inbound event-shaped frame to the debouncer.
// Typing frames never get a response; failures are dropped.
func (c *client) handleTypingSignal(ctx context.Context, event string, payload []byte) {
	if event != protocol.EventIsTyping {
		c.log.Debug().Str("event", event).Msg("unknown inbound event dropped")
		return
	}
	if !c.sess.IsAuthenticated() {
		return
	}
	var sig protocol.TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return
	}

	self := c.userID()
	real, err := c.realChatID(ctx, self, sig.ChatID)
	if err != nil {
		c.log.Debug().Err(err).Int32("chat_id", sig.ChatID).Msg("typing signal dropped")
		return
	}
	chat, err := c.fetchChat(ctx, real)
	if err != nil {
		c.log.Debug().Err(err).Int32("chat_id", real).Msg("typing signal dropped")
		return
	}

	targets := make([]typingTarget, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		if p == self {
			continue
		}
		targets = append(targets, typingTarget{userID: p, view: viewFor(chat, p)})
	}
	if len(targets) == 0 {
		return
	}
	if c.typing == nil {
		c.typing = newDebouncer(c.registry, c.typingQuiet)
	}
	c.typing.offer(typingSignal{
		chatID:   real,
		fromID:   self,
		isTyping: sig.IsTyping,
		targets:  targets,
	})
}
