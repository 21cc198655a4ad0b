package bridge

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "keyring_bridge"

// Drop reasons reported by the dropped_messages_total counter.
const (
	dropOrigin       = "origin"
	dropUncorrelated = "uncorrelated"
	dropMalformed    = "malformed"
)

type metrics struct {
	sent         prometheus.Counter
	responses    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	pending      prometheus.Gauge
	initFailures prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Number of messages dispatched to the channel",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Number of correlated responses by result",
		}, []string{"result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_messages_total",
			Help:      "Number of inbound messages dropped by reason",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_messages",
			Help:      "Number of messages awaiting a response",
		}),
		initFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "init_failures_total",
			Help:      "Number of failed channel initialization attempts",
		}),
	}

	if registerer == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.sent, m.responses, m.dropped, m.pending, m.initFailures} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register bridge metrics")
		}
	}

	return m, nil
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
