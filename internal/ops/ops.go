package ops

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/server"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
)

// Server is the operational HTTP surface: liveness, a runtime state
// snapshot and the Prometheus exposition endpoint. It listens on its own
// port so the wire planes never share a socket with diagnostics.
type Server struct {
	echo     *echo.Echo
	log      zerolog.Logger
	registry *session.Registry
	pool     *db.Pool
	wireSrv  *server.Server
	version  string
	started  time.Time
}

// New constructs the Echo app with all routes registered. pool and wireSrv
// may be nil when the server runs without a database or listeners; the state
// endpoint then reports zeros for them.
func New(version string, log zerolog.Logger, m *metrics.Metrics, reg *session.Registry, pool *db.Pool, wireSrv *server.Server) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		log:      log.With().Str("component", "ops").Logger(),
		registry: reg,
		pool:     pool,
		wireSrv:  wireSrv,
		version:  version,
		started:  time.Now(),
	}
	e.GET("/health", s.handleHealth)
	e.GET("/api/state", s.handleState)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.registry.Len(),
	})
}

type stateResponse struct {
	Version        string  `json:"version"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	Sessions       int     `json:"sessions"`
	Connections    int     `json:"connections"`
	DBBuckets      int     `json:"db_buckets"`
	Goroutines     int     `json:"goroutines"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	CPUPercent     float64 `json:"cpu_percent"`
}

func (s *Server) handleState(c echo.Context) error {
	resp := stateResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Sessions:      s.registry.Len(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.wireSrv != nil {
		resp.Connections = s.wireSrv.ConnCount()
	}
	if s.pool != nil {
		resp.DBBuckets = s.pool.Len()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	} else {
		s.log.Debug().Err(err).Msg("memory stats unavailable")
	}
	// A zero interval has no baseline on the first call, so sample briefly.
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	} else if err != nil {
		s.log.Debug().Err(err).Msg("cpu stats unavailable")
	}
	return c.JSON(http.StatusOK, resp)
}
