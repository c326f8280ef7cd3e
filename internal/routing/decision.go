package routing

import (
	"context"
	"fmt"

	"callcenter/internal/metrics"
	"callcenter/internal/telephony"
)

// Engine answers the provider's "what now?" for a call. The voice webhook depends only
// on this interface.
type Engine interface {
	RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error)
	RouteAnsweredCall(ctx context.Context, providerCallID string) (telephony.InboundCallResult, error)
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
	ActionEnqueue Action = "enqueue"
	ActionHangup  Action = "hangup"
)

var providerActions = map[Action]telephony.InboundCallAction{
	ActionReject:  telephony.InboundCallActionReject,
	ActionConnect: telephony.InboundCallActionConnect,
	ActionEnqueue: telephony.InboundCallActionEnqueue,
	ActionHangup:  telephony.InboundCallActionHangup,
}

// Decision is what the router chose for one call.
type Decision struct {
	WorkspaceID string `json:"workspace_id"`
	CallID      string `json:"call_id,omitempty"`
	Action      Action `json:"action"`

	// Set for connect.
	AgentID   string `json:"agent_id,omitempty"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Set for enqueue.
	QueueID  string `json:"queue_id,omitempty"`
	Position int    `json:"position,omitempty"`

	// Message is read to the caller; Reason only reaches logs and metrics.
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Result translates d into the provider-facing instruction. Agent ids, queue positions
// and reasons stay on our side.
func (d Decision) Result() (telephony.InboundCallResult, error) {
	action, ok := providerActions[d.Action]
	if !ok {
		return telephony.InboundCallResult{}, fmt.Errorf("routing: unknown decision action %q", d.Action)
	}
	res := telephony.InboundCallResult{WorkspaceID: d.WorkspaceID, CallID: d.CallID, Action: action, Message: d.Message}
	switch d.Action {
	case ActionConnect:
		res.ConnectTo = d.ConnectTo
	case ActionEnqueue:
		res.QueueID = d.QueueID
	}
	return res, nil
}

func (r *Router) RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	return answer(r.RouteInbound(ctx, req))
}

func (r *Router) RouteAnsweredCall(ctx context.Context, providerCallID string) (telephony.InboundCallResult, error) {
	return answer(r.RouteAnswered(ctx, providerCallID))
}

func answer(d Decision, err error) (telephony.InboundCallResult, error) {
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	metrics.RoutingDecisions.WithLabelValues(string(d.Action), d.Reason).Inc()
	return d.Result()
}
