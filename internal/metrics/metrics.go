// Package metrics exposes conversation client counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/widgetchat/internal/logging"
)

const namespace = "widgetchat"

// History fetch outcomes.
const (
	HistoryOK         = "ok"
	HistoryError      = "error"
	HistorySuperseded = "superseded"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	connected        prometheus.Gauge
	connects         prometheus.Counter
	disconnects      prometheus.Counter
	messagesSent     prometheus.Counter
	messagesReceived *prometheus.CounterVec
	serverErrors     prometheus.Counter
	ackLatency       prometheus.Histogram
	historyFetches   *prometheus.CounterVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the realtime socket is connected.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful socket connects, including reconnects.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Socket drops.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "User messages transmitted.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages appended from the server, by kind.",
		}, []string{"kind"}),
		serverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Application errors reported by the server.",
		}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_ack_seconds",
			Help:      "Time from send to message_stored acknowledgment.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		historyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetches_total",
			Help:      "History fetches by outcome.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.connected,
		m.connects,
		m.disconnects,
		m.messagesSent,
		m.messagesReceived,
		m.serverErrors,
		m.ackLatency,
		m.historyFetches,
	)
	return m
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		m.connects.Inc()
		return
	}
	m.connected.Set(0)
	m.disconnects.Inc()
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) MessageReceived(kind string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ServerError() {
	if m != nil {
		m.serverErrors.Inc()
	}
}

func (m *Metrics) AckLatency(d time.Duration) {
	if m != nil {
		m.ackLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) HistoryFetch(result string) {
	if m != nil {
		m.historyFetches.WithLabelValues(result).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Sub("metrics").Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
