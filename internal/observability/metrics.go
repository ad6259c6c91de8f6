// Package observability exposes Prometheus instruments for chat and diagnosis sessions.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speakcoach"

// Metrics groups all Prometheus instruments used by speakcoach. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	SessionTransitions *prometheus.CounterVec
	StreamEvents       *prometheus.CounterVec
	DecodeFailures     prometheus.Counter
	HandshakeLatency   prometheus.Histogram
	AudioResources     prometheus.Gauge
	AudioClips         *prometheus.CounterVec
	AudioSegments      *prometheus.CounterVec
	DiagnosisOutcomes  *prometheus.CounterVec
}

// NewMetrics registers every instrument on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Chat session state transitions by target state.",
		}, []string{"state"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Decoded push channel events by kind.",
		}, []string{"event"}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Push channel messages skipped because they did not decode.",
		}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_ms",
			Help:      "Time from upload start to push channel open in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		AudioResources: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_resources_live",
			Help:      "Materialized audio clips not yet released.",
		}),
		AudioClips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_clips_total",
			Help:      "Materialized audio clips by codec.",
		}, []string{"codec"}),
		AudioSegments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_segments_total",
			Help:      "Audio segments leaving the playback queue by outcome.",
		}, []string{"outcome"}),
		DiagnosisOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnosis_outcomes_total",
			Help:      "Diagnosis sessions by kind and terminal state.",
		}, []string{"kind", "state"}),
	}
}

// Registry exposes the backing registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) StreamEvent(name string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) ObserveHandshakeLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.HandshakeLatency.Observe(float64(d.Milliseconds()))
}

// ClipMaterialized, ClipReleased, and SegmentDone satisfy playback.Recorder.
func (m *Metrics) ClipMaterialized(codec string) {
	if m == nil {
		return
	}
	m.AudioClips.WithLabelValues(codec).Inc()
	m.AudioResources.Inc()
}

func (m *Metrics) ClipReleased() {
	if m == nil {
		return
	}
	m.AudioResources.Dec()
}

func (m *Metrics) SegmentDone(outcome string) {
	if m == nil {
		return
	}
	m.AudioSegments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DiagnosisOutcome(kind string, state string) {
	if m == nil {
		return
	}
	m.DiagnosisOutcomes.WithLabelValues(kind, state).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends. It returns the bound address.
func (m *Metrics) Serve(ctx context.Context, addr string) (string, <-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errs <- err
		close(errs)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return listener.Addr().String(), errs, nil
}
