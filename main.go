package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/Um11aut/PPgram-api-sub000/internal/config"
	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/files"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/ops"
	"github.com/Um11aut/PPgram-api-sub000/internal/server"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
	"github.com/Um11aut/PPgram-api-sub000/internal/transport"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	if RunCLI(os.Args[1:]) {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().Str("version", Version).Msg("starting ppgram server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received interrupt, shutting down")
		cancel()
	}()

	pool, err := db.Open(ctx, db.Config{
		Host:       cfg.CassandraHost,
		Port:       cfg.CassandraPort,
		MaxBuckets: cfg.MaxDBBuckets,
		Reclaim:    cfg.BucketReclaim,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		os.Exit(1)
	}
	defer pool.Close()

	store, err := files.NewStore(cfg.FilesDir, files.NewFFmpeg(), log)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.FilesDir).Msg("initialize file store")
		os.Exit(1)
	}

	m := metrics.New()
	registry := session.NewRegistry(log, m)
	srv := server.New(cfg, log, m, registry, pool, store)

	// With a PEM pair configured both TCP planes speak TLS; without one
	// they stay plaintext and only QUIC (below) self-signs.
	var tlsConf *tls.Config
	if cfg.TLSCert != "" {
		tlsConf, err = transport.LoadTLS(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			log.Error().Err(err).Msg("load tls key pair")
			os.Exit(1)
		}
		log.Info().Str("cert", cfg.TLSCert).Msg("tls enabled")
	}

	controlLn, err := transport.Listen(cfg.ControlAddr, tlsConf)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.ControlAddr).Msg("listen control plane")
		os.Exit(1)
	}
	filesLn, err := transport.Listen(cfg.FilesAddr, tlsConf)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.FilesAddr).Msg("listen file plane")
		os.Exit(1)
	}

	errCh := make(chan error, 4)
	go func() { errCh <- srv.Serve(controlLn, metrics.PlaneControl) }()
	go func() { errCh <- srv.Serve(filesLn, metrics.PlaneFile) }()

	var quicLn *transport.QUICListener
	if cfg.QUICAddr != "" {
		quicConf := tlsConf
		if quicConf == nil {
			var fingerprint string
			quicConf, fingerprint, err = transport.SelfSigned(30*24*time.Hour, "")
			if err != nil {
				log.Error().Err(err).Msg("quic tls setup")
				os.Exit(1)
			}
			log.Warn().Str("sha256", fingerprint).Msg("quic using a self-signed certificate")
		}
		quicLn, err = transport.ListenQUIC(cfg.QUICAddr, quicConf, log)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.QUICAddr).Msg("listen quic")
			os.Exit(1)
		}
		go func() { errCh <- srv.Serve(quicLn, metrics.PlaneControl) }()
	}

	opsSrv := ops.New(Version, log, m, registry, pool, srv)
	go func() { errCh <- opsSrv.Run(ctx, cfg.OpsAddr) }()

	go logStats(ctx, log, registry, srv, pool)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("listener failed")
		}
		cancel()
	}

	controlLn.Close()
	filesLn.Close()
	if quicLn != nil {
		quicLn.Close()
	}
	srv.Close()
	log.Info().Msg("server stopped")
}

// logStats emits a one-line runtime summary every minute until ctx is done.
func logStats(ctx context.Context, log zerolog.Logger, reg *session.Registry, srv *server.Server, pool *db.Pool) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Int("sessions", reg.Len()).
				Int("connections", srv.ConnCount()).
				Int("db_buckets", pool.Len()).
				Msg("runtime stats")
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if cfg.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
