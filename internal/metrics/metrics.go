package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_turns_total",
		Help: "Completed turns grouped by outcome",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_relay_turn_duration_seconds",
		Help:    "Wall time of a turn from user message to end event",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	turnRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_relay_turn_rounds",
		Help:    "Tool rounds executed per turn",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
	})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_tool_invocations_total",
		Help: "Tool invocations grouped by tool and status",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_tool_duration_seconds",
		Help:    "Duration of tool executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_viewers",
		Help: "Currently connected viewers",
	})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_events_dropped_total",
		Help: "Events not delivered because a subscriber was gone or backlogged",
	})

	droppedInbound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_inbound_dropped_total",
		Help: "Inbound viewer payloads discarded as malformed",
	})

	fragments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_stream_fragments_total",
		Help: "Completion fragments received from the model backend",
	})
)

// ObserveTurn records a finished turn. outcome is "ok" or "failed".
func ObserveTurn(outcome string, rounds int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	turnTotal.WithLabelValues(outcome).Inc()
	turnRounds.Observe(float64(rounds))
	turnDuration.Observe(duration.Seconds())
}

// ObserveToolCall records one tool execution.
func ObserveToolCall(tool string, success bool, duration time.Duration) {
	if tool == "" {
		tool = "unknown"
	}
	status := "success"
	if !success {
		status = "failed"
	}
	toolCalls.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ViewerConnected and ViewerDisconnected track the live subscriber count.
func ViewerConnected()    { viewers.Inc() }
func ViewerDisconnected() { viewers.Dec() }

// EventDropped counts an event a subscriber never received.
func EventDropped() { droppedEvents.Inc() }

// InboundDropped counts a discarded inbound payload.
func InboundDropped() { droppedInbound.Inc() }

// FragmentReceived counts one streamed completion fragment.
func FragmentReceived() { fragments.Inc() }
