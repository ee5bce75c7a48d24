package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Um11aut/PPgram-api-sub000/internal/config"
	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/files"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// Server runs the framed protocol over any number of listeners. Each
// connection gets a reader goroutine, a mailbox drain goroutine and a DB
// bucket leased for its lifetime.
type Server struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	registry *session.Registry
	pool     *db.Pool
	store    *files.Store
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func New(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics, reg *session.Registry, pool *db.Pool, store *files.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:      log,
		metrics:  m,
		registry: reg,
		pool:     pool,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener closes or the server shuts
// down. plane is metrics.PlaneControl or metrics.PlaneFile and decides the
// dispatcher a connection starts on.
func (s *Server) Serve(ln net.Listener, plane string) error {
	s.log.Info().Str("addr", ln.Addr().String()).Str("plane", plane).Msg("listening")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			nc.Close()
			return nil
		}
		if !s.track(nc) {
			nc.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(nc)
			s.serveConn(nc, plane)
		}()
	}
}

// Close stops accepting work, closes every live connection and waits for
// their goroutines. Idempotent.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}

// ConnCount reports the live connections across all listeners.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveConn(nc net.Conn, plane string) {
	remote := nc.RemoteAddr().String()
	s.metrics.ConnectionsTotal.WithLabelValues(plane).Inc()
	s.metrics.ConnectionsActive.WithLabelValues(plane).Inc()
	defer s.metrics.ConnectionsActive.WithLabelValues(plane).Dec()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	bucket, err := s.pool.Acquire(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("remote", remote).Msg("no database bucket for connection")
		nc.Close()
		return
	}
	s.metrics.DBBuckets.Set(float64(s.pool.Len()))
	defer func() {
		s.pool.Release(bucket)
		s.metrics.DBBuckets.Set(float64(s.pool.Len()))
	}()

	w := wire.NewWriter(nc)
	conn := s.registry.NewConn(w, remote)
	c := &client{
		log:         s.log.With().Uint64("conn_id", conn.ID()).Str("remote", remote).Logger(),
		metrics:     s.metrics,
		registry:    s.registry,
		store:       s.store,
		stores:      bucketStores{bucket: bucket},
		r:           wire.NewReader(nc),
		w:           w,
		conn:        conn,
		sess:        session.NewSession(),
		typingQuiet: typingQuiet,
	}
	c.sess.AddConn(conn)
	c.log.Debug().Str("plane", plane).Msg("connection open")

	defer func() {
		c.shutdown()
		s.registry.Detach(c.sess, conn)
		select {
		case <-conn.Done():
		case <-time.After(time.Second):
		}
		nc.Close()
		c.log.Debug().Msg("connection closed")
	}()

	if plane == metrics.PlaneFile {
		c.serveFilePlane(ctx)
		return
	}
	if c.serveControlPlane(ctx) {
		// the connection bound itself to the file plane
		c.serveFilePlane(ctx)
	}
}
