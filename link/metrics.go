package link

import (
	"github.com/mbocsi/devlink/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "devlink"

type metrics struct {
	bytesReceived prometheus.Counter
	packets       *prometheus.CounterVec
	messages      prometheus.Counter
	resyncs       prometheus.Counter
	noise         prometheus.Counter
	stale         prometheus.Counter
	writes        *prometheus.CounterVec
	selections    *prometheus.CounterVec
	handshakes    *prometheus.CounterVec
	linkLosses    prometheus.Counter
	connected     prometheus.Gauge
}

// newMetrics registers the coordinator metrics with reg. A nil registerer
// keeps the metrics private to the coordinator.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from the active transport",
		}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_received_total",
			Help:      "Packets extracted from the byte stream by command",
		}, []string{"command"}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Text messages received from the device",
		}),
		resyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "framer_resyncs_total",
			Help:      "Frames discarded because no terminator arrived in time",
		}),
		noise: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "framer_noise_bytes_total",
			Help:      "Bytes dropped while waiting for a frame start",
		}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_events_total",
			Help:      "Events discarded because their transport was replaced",
		}),
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "writes_total",
			Help:      "Transport writes by result",
		}, []string{"kind", "result"}),
		selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "selections_total",
			Help:      "Transport selections by transport and outcome",
		}, []string{"transport", "result"}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transfers_total",
			Help:      "Password-gated transfers by outcome",
		}, []string{"result"}),
		linkLosses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "link_losses_total",
			Help:      "Connections that dropped without a disconnect request",
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while the selected transport is connected",
		}),
	}
}

func (m *metrics) observeFramer(prev, cur proto.FramerStats) {
	if d := cur.Resyncs - prev.Resyncs; d > 0 {
		m.resyncs.Add(float64(d))
	}
	if d := cur.Dropped - prev.Dropped; d > 0 {
		m.noise.Add(float64(d))
	}
}

func (m *metrics) setConnected(v bool) {
	if v {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
