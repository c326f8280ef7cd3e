package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operator signals. Label sets stay low-cardinality: queue and campaign ids come from
// the policy file, never from request input.
var (
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_call_transitions_total",
			Help: "Committed call state transitions",
		},
		[]string{"from", "to", "event"},
	)

	StateErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_call_state_errors_total",
			Help: "Transition requests rejected as outside the call state graph",
		},
		[]string{"event"},
	)

	QueueAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_queue_abandoned_total",
			Help: "Queued calls that timed out or hung up before an agent was assigned",
		},
		[]string{"queue", "reason"},
	)

	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callcenter_queue_length",
			Help: "Entries currently waiting per queue",
		},
		[]string{"queue"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_provider_errors_total",
			Help: "Provider operation failures by operation and kind",
		},
		[]string{"op", "kind"},
	)

	ProviderAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callcenter_provider_auth_failures_total",
			Help: "Provider calls rejected for bad credentials",
		},
	)

	DialerPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_dialer_calls_placed_total",
			Help: "Outbound campaign calls handed to the provider",
		},
		[]string{"campaign"},
	)

	DialerStalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_dialer_stalls_total",
			Help: "Dialer ticks with spare capacity and no eligible contacts",
		},
		[]string{"campaign"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_webhook_events_total",
			Help: "Provider callbacks by outcome (processed, duplicate, rejected, failed)",
		},
		[]string{"kind", "result"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_routing_decisions_total",
			Help: "Answers given to the provider's voice webhook by action and reason",
		},
		[]string{"action", "reason"},
	)
)
