// Package telemetry provides the Event/PerfLog/TLM callback proxies of
// spec.md §14 plus Prometheus counters per error kind and per cache FSM
// state, matching the "counters per error kind are exposed through the
// per-source MIB telemetry" note in spec.md §7.
package telemetry

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// EventFunc, PerfLogFunc and TLMFunc mirror the three NASA bplib
// telemetry callback shapes (event log, performance log, and the
// telemetry/MIB proxy) as plain Go function values so a caller can wire
// any backend, or none.
type EventFunc func(source, message string, args ...any)
type PerfLogFunc func(source string, durationUs int64)
type TLMFunc func(source string, counter string, delta int64)

// Proxy forwards to whichever of Event/PerfLog/TLM are non-nil, and is
// always safe to call with a nil *Proxy or nil field — matching spec.md
// §7's "a null callback is a no-op, never an error" rule.
type Proxy struct {
	Event   EventFunc
	PerfLog PerfLogFunc
	TLM     TLMFunc
	logger  *slog.Logger
}

// NewProxy builds a Proxy that also mirrors every event through logger at
// info level, defaulting to slog.Default() when logger is nil.
func NewProxy(logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{logger: logger}
}

func (p *Proxy) LogEvent(source, message string, args ...any) {
	if p == nil {
		return
	}
	if p.logger != nil {
		p.logger.Info(message, append([]any{"source", source}, args...)...)
	}
	if p.Event != nil {
		p.Event(source, message, args...)
	}
}

func (p *Proxy) LogPerf(source string, durationUs int64) {
	if p == nil || p.PerfLog == nil {
		return
	}
	p.PerfLog(source, durationUs)
}

func (p *Proxy) LogTLM(source, counter string, delta int64) {
	if p == nil || p.TLM == nil {
		return
	}
	p.TLM(source, counter, delta)
}

// Metrics is the Prometheus counter set for error kinds and cache FSM
// state transitions.
type Metrics struct {
	ErrorsTotal     *prometheus.CounterVec
	StateEnterTotal *prometheus.CounterVec
	StateExitTotal  *prometheus.CounterVec
	DiscardsTotal   prometheus.Counter
}

// NewMetrics registers the counter set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dtn_errors_total",
			Help: "Count of errors observed, by kind.",
		}, []string{"kind"}),
		StateEnterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dtn_cache_state_enter_total",
			Help: "Count of cache entry FSM state entries, by state.",
		}, []string{"state"}),
		StateExitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dtn_cache_state_exit_total",
			Help: "Count of cache entry FSM state exits, by state.",
		}, []string{"state"}),
		DiscardsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dtn_cache_discards_total",
			Help: "Count of cache entries discarded (recycled) by the FSM driver.",
		}),
	}
	reg.MustRegister(m.ErrorsTotal, m.StateEnterTotal, m.StateExitTotal, m.DiscardsTotal)
	return m
}

func (m *Metrics) IncError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStateEnter(state string) {
	if m == nil {
		return
	}
	m.StateEnterTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) IncStateExit(state string) {
	if m == nil {
		return
	}
	m.StateExitTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) IncDiscard() {
	if m == nil {
		return
	}
	m.DiscardsTotal.Inc()
}
