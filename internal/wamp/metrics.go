package wamp

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by a Client. A nil
// *Metrics records nothing.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration prometheus.Histogram
	events       prometheus.Counter
	heartbeats   prometheus.Counter
	reconnects   *prometheus.CounterVec
	malformed    prometheus.Counter
	state        prometheus.Gauge
}

// NewMetrics creates and registers the client collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Remote calls by outcome.",
		}, []string{"outcome"}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Time from issuing a call to its settlement.",
			Buckets:   prometheus.DefBuckets,
		}),
		events: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_delivered_total",
			Help:      "Event payloads delivered to subscription handlers.",
		}),
		heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames queued for sending.",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Automatic reconnection attempts by result.",
		}, []string{"result"}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 open, 3 closing.",
		}),
	}
}

func (m *Metrics) observeCall(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(callOutcome(err)).Inc()
	m.callDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) eventsDelivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.events.Add(float64(n))
}

func (m *Metrics) heartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) reconnect(result string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) malformedFrame() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func callOutcome(err error) string {
	var remote *RemoteCallError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
