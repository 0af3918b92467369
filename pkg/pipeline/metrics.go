package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sender poll outcomes.
const (
	OutcomeRendered  = "rendered"
	OutcomeUnchanged = "unchanged"
	OutcomeReadError = "read_error"
	OutcomeError     = "error"
)

// Receiver attempt outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeCaptureError = "capture_error"
	OutcomeNoCode       = "no_code"
	OutcomeCorruption   = "corruption"
	OutcomeIntegrity    = "integrity"
	OutcomeFormat       = "format"
)

// Metrics holds the Prometheus collectors for both loops
type Metrics struct {
	senderPollsTotal    *prometheus.CounterVec
	truthRowsTotal      prometheus.Counter
	packetBytes         prometheus.Gauge
	blobBytes           prometheus.Gauge
	lastPacketID        prometheus.Gauge
	receiverTotal       *prometheus.CounterVec
	receiverDuration    prometheus.Histogram
	lastDecodedPacketID prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with reg. A nil reg
// registers with a private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		senderPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_sender_polls_total",
				Help: "Total number of cache polls by outcome",
			},
			[]string{"outcome"},
		),
		truthRowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vitalgap_truth_rows_total",
				Help: "Total number of truth rows appended to the snapshot log",
			},
		),
		packetBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vitalgap_packet_bytes",
				Help: "Size of the last encoded packet",
			},
		),
		blobBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vitalgap_blob_bytes",
				Help: "Size of the last compressed blob",
			},
		),
		lastPacketID: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vitalgap_sender_packet_id",
				Help: "Packet id of the last rendered code",
			},
		),
		receiverTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_receiver_attempts_total",
				Help: "Total number of capture attempts by outcome",
			},
			[]string{"outcome"},
		),
		receiverDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vitalgap_receiver_attempt_duration_seconds",
				Help:    "Capture, decode and unpack duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastDecodedPacketID: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vitalgap_receiver_packet_id",
				Help: "Packet id of the last successfully decoded code",
			},
		),
	}
}

// RecordPoll records one sender poll
func (m *Metrics) RecordPoll(outcome string) {
	m.senderPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordRender records the sizes of a rendered packet
func (m *Metrics) RecordRender(packetID int64, packetSize, blobSize int, appended bool) {
	m.lastPacketID.Set(float64(packetID))
	m.packetBytes.Set(float64(packetSize))
	m.blobBytes.Set(float64(blobSize))
	if appended {
		m.truthRowsTotal.Inc()
	}
}

// RecordAttempt records one receiver attempt
func (m *Metrics) RecordAttempt(outcome string, seconds float64) {
	m.receiverTotal.WithLabelValues(outcome).Inc()
	m.receiverDuration.Observe(seconds)
}

// RecordDecoded records the packet id of a successful decode
func (m *Metrics) RecordDecoded(packetID int64) {
	m.lastDecodedPacketID.Set(float64(packetID))
}
