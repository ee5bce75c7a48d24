package session

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// Session groups the connections of one identity. It starts anonymous and
// gains credentials when the registry binds it to a user.
type Session struct {
	mu        sync.Mutex
	userID    int32
	sessionID string
	conns     []*Conn
}

// NewSession returns an empty anonymous session.
func NewSession() *Session { return &Session{} }

// IsAuthenticated reports whether the session carries credentials.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID != 0
}

// Credentials returns the bound (user_id, session_id) pair, ok=false while
// anonymous.
func (s *Session) Credentials() (int32, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.sessionID, s.userID != 0
}

// AddConn appends a connection; insertion order is connect order.
func (s *Session) AddConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, c)
}

// RemoveConn detaches a connection and reports how many remain.
func (s *Session) RemoveConn(c *Conn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.conns {
		if have == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	return len(s.conns)
}

// Conns returns an ordered snapshot of the session's connections.
func (s *Session) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// Send enqueues an event onto the primary (oldest) connection's mailbox.
func (s *Session) Send(ev protocol.Event) bool {
	s.mu.Lock()
	var c *Conn
	if len(s.conns) > 0 {
		c = s.conns[0]
	}
	s.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Enqueue(ev)
}

func (s *Session) authenticate(userID int32, sessionID string) {
	s.mu.Lock()
	s.userID = userID
	s.sessionID = sessionID
	s.mu.Unlock()
}

// evictable reports the user id when the session is authenticated and has
// no connections left.
func (s *Session) evictable() (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == 0 || len(s.conns) != 0 {
		return 0, false
	}
	return s.userID, true
}

// Registry is the process-wide user_id → Session map used for realtime
// fan-out. Only authenticated sessions live in it; anonymous sessions are
// held by their connection's dispatcher alone.
type Registry struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	nextID  atomic.Uint64

	mu       sync.RWMutex
	sessions map[int32]*Session
}

func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		log:      log,
		metrics:  m,
		sessions: make(map[int32]*Session),
	}
}

// NewConn wraps a frame writer into a connection and starts its mailbox
// drain goroutine.
func (r *Registry) NewConn(w *wire.Writer, remote string) *Conn {
	c := &Conn{
		id:      r.nextID.Add(1),
		remote:  remote,
		w:       w,
		mailbox: make(chan protocol.Event, MailboxSize),
		done:    make(chan struct{}),
		log:     r.log,
	}
	go c.drain()
	return c
}

// Attach binds a connection to the session of userID. When the user has no
// registered session yet, `from` gains the credentials and is registered;
// otherwise the connection migrates from `from` into the existing session.
// Returns the session the connection now belongs to.
func (r *Registry) Attach(userID int32, sessionID string, from *Session, c *Conn) *Session {
	r.mu.Lock()
	// A connection re-authenticating under a new identity leaves its old
	// session first; the old user's registry entry must never end up
	// pointing at a session credentialed as somebody else.
	if prev, _, ok := from.Credentials(); ok && prev != userID {
		from.RemoveConn(c)
		r.evictLocked(from)
		from = NewSession()
		from.AddConn(c)
	}
	target, ok := r.sessions[userID]
	if !ok {
		target = from
		target.authenticate(userID, sessionID)
		r.sessions[userID] = target
		r.mu.Unlock()
		r.metrics.SessionsActive.Inc()
		r.log.Debug().Int32("user_id", userID).Uint64("conn_id", c.ID()).Msg("session registered")
		return target
	}
	if target != from {
		from.RemoveConn(c)
		target.AddConn(c)
		r.evictLocked(from)
	}
	r.mu.Unlock()
	r.log.Debug().Int32("user_id", userID).Uint64("conn_id", c.ID()).Msg("connection attached")
	return target
}

// Detach closes the connection and removes it from its session; an
// authenticated session whose last connection leaves is evicted.
func (r *Registry) Detach(s *Session, c *Conn) {
	c.Close()
	r.mu.Lock()
	s.RemoveConn(c)
	evicted := r.evictLocked(s)
	r.mu.Unlock()
	if evicted {
		userID, _, _ := s.Credentials()
		r.log.Debug().Int32("user_id", userID).Msg("session evicted")
	}
}

func (r *Registry) evictLocked(s *Session) bool {
	userID, ok := s.evictable()
	if !ok {
		return false
	}
	if cur, found := r.sessions[userID]; !found || cur != s {
		return false
	}
	delete(r.sessions, userID)
	r.metrics.SessionsActive.Dec()
	return true
}

// Lookup returns the registered session of a user.
func (r *Registry) Lookup(userID int32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// SendTo delivers one event to a user's session. Unknown users are silently
// skipped; a full mailbox counts as a drop.
func (r *Registry) SendTo(userID int32, ev protocol.Event) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if s.Send(ev) {
		r.metrics.EventsSent.Inc()
		return true
	}
	r.metrics.EventsDropped.Inc()
	return false
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
