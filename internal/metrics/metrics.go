package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dialer holds the dialer's collectors. A nil *Dialer is valid and records nothing.
type Dialer struct {
	registry *prometheus.Registry

	dispatched     *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	inFlight       prometheus.Gauge
	activeRuns     prometheus.Gauge
	transitions    *prometheus.CounterVec
	usageFailures  prometheus.Counter
	webhookLatency prometheus.Histogram
}

// Dispatch results.
const (
	ResultSubmitted = "submitted"
	ResultFailed    = "failed"
)

// New registers every collector on a fresh registry, plus Go and process collectors.
func New() *Dialer {
	reg := prometheus.NewRegistry()
	d := &Dialer{
		registry: reg,
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_calls_dispatched_total",
			Help: "Calls handed to the voice provider, by submission result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_outcomes_total",
			Help: "Terminal call outcomes reconciled, by call status.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dialer_calls_in_flight",
			Help: "Calls submitted and not yet reconciled.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dialer_active_runs",
			Help: "Campaign runs owned by this process.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_transitions_total",
			Help: "Campaign status transitions.",
		}, []string{"from", "to"}),
		usageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialer_usage_commit_failures_total",
			Help: "Wallet usage commits that failed after a call completed.",
		}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialer_outcome_delivery_seconds",
			Help:    "Time from provider acceptance to reconciled outcome.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),
	}
	reg.MustRegister(
		d.dispatched, d.outcomes, d.inFlight, d.activeRuns,
		d.transitions, d.usageFailures, d.webhookLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return d
}

// Handler serves the registry in the Prometheus text format.
func (d *Dialer) Handler() http.Handler {
	if d == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry})
}

func (d *Dialer) Registry() *prometheus.Registry {
	if d == nil {
		return nil
	}
	return d.registry
}

func (d *Dialer) Dispatched(result string) {
	if d == nil {
		return
	}
	d.dispatched.WithLabelValues(result).Inc()
}

func (d *Dialer) Outcome(status string) {
	if d == nil {
		return
	}
	d.outcomes.WithLabelValues(status).Inc()
}

func (d *Dialer) CallStarted() {
	if d == nil {
		return
	}
	d.inFlight.Inc()
}

// CallEnded also observes how long the call was outstanding.
func (d *Dialer) CallEnded(outstandingSeconds float64) {
	if d == nil {
		return
	}
	d.inFlight.Dec()
	if outstandingSeconds >= 0 {
		d.webhookLatency.Observe(outstandingSeconds)
	}
}

func (d *Dialer) RunStarted() {
	if d == nil {
		return
	}
	d.activeRuns.Inc()
}

func (d *Dialer) RunStopped() {
	if d == nil {
		return
	}
	d.activeRuns.Dec()
}

// ObserveTransition satisfies campaigns.TransitionObserver.
func (d *Dialer) ObserveTransition(from, to string) {
	if d == nil {
		return
	}
	d.transitions.WithLabelValues(from, to).Inc()
}

func (d *Dialer) UsageCommitFailed() {
	if d == nil {
		return
	}
	d.usageFailures.Inc()
}
