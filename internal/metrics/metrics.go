// Package metrics exposes Prometheus collectors for the host.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the host reports.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	evals            *prometheus.CounterVec
	evalDuration     prometheus.Histogram
	cancels          *prometheus.CounterVec
	evalStackDepth   prometheus.Gauge
	plotRenders      *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	blobs            prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statshost_messages_received_total",
			Help: "Messages received from the peer by kind",
		}, []string{"kind"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statshost_messages_sent_total",
			Help: "Messages sent to the peer by kind",
		}, []string{"kind"}),
		evals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statshost_evals_total",
			Help: "Completed eval requests by outcome",
		}, []string{"outcome"}),
		evalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "statshost_eval_duration_seconds",
			Help:    "Eval request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2m
		}),
		cancels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statshost_cancels_total",
			Help: "Cancel requests by result",
		}, []string{"result"}),
		evalStackDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "statshost_eval_stack_depth",
			Help: "Current depth of the eval frame stack",
		}),
		plotRenders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statshost_plot_renders_total",
			Help: "Plot images sent by result",
		}, []string{"result"}),
		renderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "statshost_plot_render_duration_seconds",
			Help:    "Time to render a plot snapshot to its file",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		blobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "statshost_blobs",
			Help: "Blobs currently held by the blob store",
		}),
	}
}

// Kind classifies a message name for labels.
func Kind(name string) string {
	if name == "" {
		return "unknown"
	}
	switch name[0] {
	case '?':
		if len(name) > 1 && name[1] == '=' {
			return "eval"
		}
		return "request"
	case '!':
		return "notification"
	case ':':
		return "response"
	}
	return "unknown"
}

func (m *Metrics) MessageReceived(name string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(Kind(name)).Inc()
}

func (m *Metrics) MessageSent(name string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(Kind(name)).Inc()
}

// EvalDone records a finished eval. outcome is "ok", "error" or "canceled".
func (m *Metrics) EvalDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.evals.WithLabelValues(outcome).Inc()
	m.evalDuration.Observe(d.Seconds())
}

// Cancel records a cancel request. result is "targeted" or "late".
func (m *Metrics) Cancel(result string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(result).Inc()
}

func (m *Metrics) StackDepth(n int) {
	if m == nil {
		return
	}
	m.evalStackDepth.Set(float64(n))
}

// PlotRendered records a sent plot. result is "rendered", "resent" or
// "placeholder".
func (m *Metrics) PlotRendered(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.plotRenders.WithLabelValues(result).Inc()
	if result == "rendered" {
		m.renderDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetBlobs(n int) {
	if m == nil {
		return
	}
	m.blobs.Set(float64(n))
}
