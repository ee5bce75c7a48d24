package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's Prometheus collectors on a private registry
// so tests can construct as many instances as they want.
type Metrics struct {
	reg *prometheus.Registry

	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	FramesTotal       *prometheus.CounterVec
	EventsSent        prometheus.Counter
	EventsDropped     prometheus.Counter
	MessagesStored    prometheus.Counter
	UploadsTotal      prometheus.Counter
	DownloadsTotal    prometheus.Counter
	SessionsActive    prometheus.Gauge
	DBBuckets         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ppgram_connections_active",
			Help: "Current connections by plane.",
		}, []string{"plane"}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppgram_connections_total",
			Help: "Accepted connections by plane.",
		}, []string{"plane"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppgram_frames_total",
			Help: "Inbound frames by plane.",
		}, []string{"plane"}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppgram_events_sent_total",
			Help: "Realtime events delivered to connection mailboxes.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppgram_events_dropped_total",
			Help: "Realtime events dropped because the recipient mailbox stayed full.",
		}),
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppgram_messages_stored_total",
			Help: "Messages appended to chat logs.",
		}),
		UploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppgram_uploads_total",
			Help: "Completed file uploads, deduplicated ones included.",
		}),
		DownloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppgram_downloads_total",
			Help: "Completed file downloads.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ppgram_sessions_active",
			Help: "Authenticated sessions currently in the registry.",
		}),
		DBBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ppgram_db_buckets",
			Help: "Open database buckets in the pool.",
		}),
	}
	m.reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.FramesTotal,
		m.EventsSent,
		m.EventsDropped,
		m.MessagesStored,
		m.UploadsTotal,
		m.DownloadsTotal,
		m.SessionsActive,
		m.DBBuckets,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Plane label values.
const (
	PlaneControl = "control"
	PlaneFile    = "file"
)
