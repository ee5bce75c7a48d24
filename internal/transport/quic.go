package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
)

// NextProto is the ALPN identifier of the framed protocol over QUIC.
const NextProto = "ppgram"

// QUICListener adapts QUIC to the net.Listener shape the acceptor consumes:
// every bidirectional stream a peer opens becomes one net.Conn carrying an
// independent framed session.
type QUICListener struct {
	ql     *quic.Listener
	log    zerolog.Logger
	conns  chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// ListenQUIC starts a QUIC listener on addr. The TLS config is cloned and
// pinned to the protocol's ALPN.
func ListenQUIC(addr string, tlsConf *tls.Config, log zerolog.Logger) (*QUICListener, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{NextProto}

	ql, err := quic.ListenAddr(addr, conf, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &QUICListener{
		ql:     ql,
		log:    log,
		conns:  make(chan net.Conn),
		ctx:    ctx,
		cancel: cancel,
	}
	go l.acceptConns()
	return l, nil
}

func (l *QUICListener) acceptConns() {
	for {
		conn, err := l.ql.Accept(l.ctx)
		if err != nil {
			return
		}
		l.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("quic connection")
		go l.acceptStreams(conn)
	}
}

func (l *QUICListener) acceptStreams(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(l.ctx)
		if err != nil {
			return
		}
		select {
		case l.conns <- &streamConn{Stream: stream, conn: conn}:
		case <-l.ctx.Done():
			stream.CancelRead(0)
			stream.CancelWrite(0)
			return
		}
	}
}

// Accept blocks for the next inbound stream.
func (l *QUICListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *QUICListener) Close() error {
	l.cancel()
	return l.ql.Close()
}

func (l *QUICListener) Addr() net.Addr { return l.ql.Addr() }

// streamConn is one QUIC stream presented as a net.Conn.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (s *streamConn) Close() error {
	s.Stream.CancelRead(0)
	return s.Stream.Close()
}

func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
