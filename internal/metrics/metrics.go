package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// All metrics are low-cardinality: camera ids are two letters, channels are a
// fixed enum, zones are at most eight.

var (
	// FramesReceivedTotal counts UDP camera frames accepted into the ring.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_frames_received_total",
			Help: "Camera frames accepted into the frame bus",
		},
		[]string{"camera"},
	)

	// FramesDroppedTotal counts frames rejected before buffering.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_frames_dropped_total",
			Help: "Camera frames dropped by reason (malformed, stale, duplicate)",
		},
		[]string{"reason"},
	)

	// DetectionsProcessedTotal counts detections that passed the access controller.
	DetectionsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_detections_processed_total",
			Help: "Detections emitted by the pipeline by event type",
		},
		[]string{"event_type"},
	)

	// DetectionsFilteredTotal counts detections dropped by the access controller.
	DetectionsFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_detections_filtered_total",
			Help: "Detections dropped by the access controller by reason",
		},
		[]string{"reason"},
	)

	// FanoutMessagesTotal counts messages written per client channel.
	FanoutMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_fanout_messages_total",
			Help: "Messages broadcast to client sessions by channel and kind",
		},
		[]string{"channel", "kind"},
	)

	// FanoutDropsTotal counts messages lost to full session queues.
	FanoutDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_fanout_drops_total",
			Help: "Messages dropped because a session write queue was full",
		},
		[]string{"channel"},
	)

	// ZoneTransitionsTotal counts zone state machine transitions.
	ZoneTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_zone_transitions_total",
			Help: "Zone state transitions by zone and direction",
		},
		[]string{"zone", "to"},
	)

	// RelayDatagramsTotal counts relay frames sent to subscribed controllers.
	RelayDatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_relay_datagrams_total",
			Help: "Video relay datagrams by outcome (sent, dropped)",
		},
		[]string{"outcome"},
	)

	// RepositoryErrorsTotal counts failed repository operations.
	RepositoryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falcon_repository_errors_total",
			Help: "Repository operation failures by operation",
		},
		[]string{"op"},
	)

	// FirstDetectionsTotal counts persisted first detections.
	FirstDetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falcon_first_detections_total",
			Help: "First-detection events persisted and fanned out",
		},
	)

	// ConnectedSessions tracks live client sessions per channel.
	ConnectedSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "falcon_connected_sessions",
			Help: "Connected client sessions by channel",
		},
		[]string{"channel"},
	)

	// InferenceState exposes the inference-channel lifecycle as a gauge
	// (0=disconnected, 1=calibrating, 2=awaiting_ack, 3=operating).
	InferenceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falcon_inference_state",
			Help: "Inference worker lifecycle state",
		},
	)

	// CommandLatency tracks inbound command handling time.
	CommandLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "falcon_command_latency_ms",
			Help:    "Inbound command handling latency in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"channel", "command"},
	)
)

// Handler exposes the default registry for the admin HTTP server.
func Handler() http.Handler {
	return promhttp.Handler()
}
