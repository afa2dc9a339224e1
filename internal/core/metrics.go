package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "nebula"

// Metrics holds the Prometheus collectors shared by the server components. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	framesTotal        *prometheus.CounterVec
	invalidBytesTotal  *prometheus.CounterVec
	packetsDispatched  *prometheus.CounterVec
	packetsDropped     *prometheus.CounterVec
	dispatchQueueDepth prometheus.Gauge
	connections        *prometheus.GaugeVec
	sendErrors         prometheus.Counter
	syncBarriers       prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Frames read from connections, by parse result.",
		}, []string{"result"}),

		invalidBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalid_bytes_total",
			Help:      "Bytes discarded while resynchronizing inbound streams.",
		}, []string{"reason"}),

		packetsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dispatched_total",
			Help:      "Packets delivered to a handler.",
		}, []string{"packet"}),

		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Packets that were received but never handled.",
		}, []string{"reason"}),

		dispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_queue_depth",
			Help:      "Items waiting for the next drain.",
		}),

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Players in the session, by connection status.",
		}, []string{"status"}),

		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Connections closed because an outbound frame could not be sent.",
		}),

		syncBarriers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_barriers_total",
			Help:      "Times every syncing player finished loading.",
		}),
	}
}

func (m *Metrics) FrameParsed(result string) {
	if m != nil {
		m.framesTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) BytesDiscarded(reason string, n int) {
	if m != nil {
		m.invalidBytesTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) PacketDispatched(name string) {
	if m != nil {
		m.packetsDispatched.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) PacketDropped(reason string) {
	if m != nil {
		m.packetsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.dispatchQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetConnections(status string, n int) {
	if m != nil {
		m.connections.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) SyncBarrierReached() {
	if m != nil {
		m.syncBarriers.Inc()
	}
}
