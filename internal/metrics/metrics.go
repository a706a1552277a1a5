package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"feedsync/internal/publisher"
)

const (
	namespace = "feedsync"
	subsystem = "publisher"
)

// Metrics holds the engine's Prometheus collectors. It implements publisher.Recorder.
type Metrics struct {
	subscriptionErrors  *prometheus.CounterVec // by kind
	serverWarnings      prometheus.Counter
	packetsSent         prometheus.Counter
	packetsReceived     prometheus.Counter
	connectionChanges   *prometheus.CounterVec // by state: online, offline
	activeSubscriptions prometheus.Gauge
	sendQueueDepth      prometheus.Gauge

	registry *prometheus.Registry
}

var _ publisher.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with a dedicated registry
func New() (*Metrics, error) {
	m := &Metrics{
		subscriptionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_errors_total",
			Help:      "Subscription errors by kind",
		}, []string{"kind"}),

		serverWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_warnings_total",
			Help:      "Warnings reported by the server",
		}),

		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Envelopes handed to the transport",
		}),

		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Envelopes received from the transport",
		}),

		connectionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_changes_total",
			Help:      "Transport status changes by resulting state",
		}, []string{"state"}),

		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_subscriptions",
			Help:      "Subscriptions currently registered",
		}),

		sendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_queue_depth",
			Help:      "Requests waiting to be sent",
		}),

		registry: prometheus.NewRegistry(),
	}

	collectors := []prometheus.Collector{
		m.subscriptionErrors,
		m.serverWarnings,
		m.packetsSent,
		m.packetsReceived,
		m.connectionChanges,
		m.activeSubscriptions,
		m.sendQueueDepth,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the collectors
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SubscriptionError(kind publisher.ErrorKind) {
	m.subscriptionErrors.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ServerWarning()            { m.serverWarnings.Inc() }
func (m *Metrics) PacketSent()               { m.packetsSent.Inc() }
func (m *Metrics) PacketReceived()           { m.packetsReceived.Inc() }
func (m *Metrics) ActiveSubscriptions(n int) { m.activeSubscriptions.Set(float64(n)) }
func (m *Metrics) SendQueueDepth(n int)      { m.sendQueueDepth.Set(float64(n)) }

// ConnectionChanged counts a transport status change
func (m *Metrics) ConnectionChanged(online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	m.connectionChanges.WithLabelValues(state).Inc()
}

// Server exposes the metrics endpoint over HTTP
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr and serving path
func NewServer(m *Metrics, addr, path string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts the server down
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server started")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}
