// Package metrics exposes dispatch and monitor activity as Prometheus
// collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agusx1211/baton/internal/debug"
)

const namespace = "baton"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatched       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	ticks            prometheus.Counter
	observeFailures  prometheus.Counter
	terminal         *prometheus.CounterVec
	running          prometheus.Gauge
	pruned           prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_dispatched_total",
			Help:      "Sessions successfully dispatched, by agent backend.",
		}, []string{"backend"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Dispatch attempts that produced no session, by agent backend.",
		}, []string{"backend"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_ticks_total",
			Help:      "Monitor samples taken across all sessions.",
		}),
		observeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_observation_failures_total",
			Help:      "Monitor samples whose diff statistics could not be collected.",
		}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminal_total",
			Help:      "Terminal transitions, by status kind.",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_monitored",
			Help:      "Sessions currently watched by a monitor in this process.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_pruned_total",
			Help:      "Session records removed by pruning.",
		}),
	}
	m.registry.MustRegister(
		m.dispatched,
		m.dispatchFailures,
		m.ticks,
		m.observeFailures,
		m.terminal,
		m.running,
		m.pruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Dispatched(backend string) {
	if m != nil {
		m.dispatched.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) DispatchFailed(backend string) {
	if m != nil {
		m.dispatchFailures.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) Tick() {
	if m != nil {
		m.ticks.Inc()
	}
}

func (m *Metrics) ObservationFailed() {
	if m != nil {
		m.observeFailures.Inc()
	}
}

func (m *Metrics) Terminal(kind string) {
	if m != nil {
		m.terminal.WithLabelValues(kind).Inc()
	}
}

// MonitorStarted and MonitorStopped track the monitored-sessions gauge.
func (m *Metrics) MonitorStarted() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *Metrics) MonitorStopped() {
	if m != nil {
		m.running.Dec()
	}
}

func (m *Metrics) Pruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	debug.LogKV("metrics", "serving", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
