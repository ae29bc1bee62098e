// Package metrics provides the daemon's Prometheus instrumentation: turns,
// tool invocations, and pending approvals.
package metrics

import (
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quietloop/agentd/internal/eventhub"
)

// Metrics holds every Prometheus collector the daemon registers.
type Metrics struct {
	// TurnCounter counts agent turns by outcome (final|suspended|exhausted|error).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures wall-clock time of a full agent turn.
	TurnDuration prometheus.Histogram

	// ToolInvocationCounter counts tool invocations by tool name and status.
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures tool handler latency in seconds.
	ToolInvocationDuration *prometheus.HistogramVec

	// ApprovalsPending gauges the current count of pending approvals.
	ApprovalsPending prometheus.Gauge

	// ApprovalDecisions counts approval resolutions by decision.
	ApprovalDecisions *prometheus.CounterVec
}

// New creates and registers every collector against the default registry.
func New() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_turns_total",
				Help: "Total number of agent turns by outcome.",
			},
			[]string{"outcome"},
		),
		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_turn_duration_seconds",
				Help:    "Duration of a full agent turn in seconds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ToolInvocationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_tool_invocations_total",
				Help: "Total number of tool invocations by tool name and status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolInvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_tool_invocation_duration_seconds",
				Help:    "Duration of a tool invocation in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ApprovalsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_approvals_pending",
				Help: "Current number of approvals awaiting a decision.",
			},
		),
		ApprovalDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_approval_decisions_total",
				Help: "Total number of approval resolutions by decision.",
			},
			[]string{"decision"},
		),
	}
}

// RecordTurn records the outcome and duration of a completed agent turn.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordToolInvocation records the outcome and duration of one tool call.
func (m *Metrics) RecordToolInvocation(toolName, status string, duration time.Duration) {
	m.ToolInvocationCounter.WithLabelValues(toolName, status).Inc()
	m.ToolInvocationDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// SetApprovalsPending sets the pending-approvals gauge to n.
func (m *Metrics) SetApprovalsPending(n int) {
	m.ApprovalsPending.Set(float64(n))
}

// RecordApprovalDecision records a resolved approval by decision.
func (m *Metrics) RecordApprovalDecision(decision string) {
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
}

// eventSubscriber turns the event hub's broadcasts into metric updates so
// counters stay accurate without the executor needing a direct metrics
// dependency.
type eventSubscriber struct {
	m *Metrics
}

// Subscribe attaches m to hub, returning the subscription handle for later
// removal.
func (m *Metrics) Subscribe(hub *eventhub.Hub) eventhub.Subscription {
	return hub.Subscribe(&eventSubscriber{m: m})
}

func (s *eventSubscriber) Send(data []byte) error {
	var envelope struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}

	switch envelope.Event {
	case "chat.reply":
		if _, pending := envelope.Payload["pending_approval_id"]; pending {
			s.m.TurnCounter.WithLabelValues("suspended").Inc()
		} else {
			s.m.TurnCounter.WithLabelValues("final").Inc()
		}
	case "approval.created":
		s.m.ApprovalsPending.Inc()
	case "approval.resolved":
		s.m.ApprovalsPending.Dec()
		if decision, ok := envelope.Payload["decision"].(string); ok {
			s.m.RecordApprovalDecision(decision)
		}
	}
	return nil
}
