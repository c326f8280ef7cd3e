package calls

import "time"

// Call is the authoritative record of one phone call.
//
// Invariants:
// - AgentID is set iff Status is ASSIGNED, ACTIVE, ON_HOLD or CONFERENCE.
// - At most one Call exists per ProviderCallID.
// - EndTime and DurationSeconds are written together, once, on entering a terminal status.
// - HoldStartTime is set only while ON_HOLD.
//
// Calls are mutated only through Store; callers receive copies.
type Call struct {
	ID          string    `json:"call_id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Direction   Direction `json:"direction" db:"direction"`

	// From and To are E.164.
	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status Status `json:"status" db:"status"`

	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`

	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	QueueID    string     `json:"queue_id,omitempty" db:"queue_id"`
	Priority   int        `json:"priority,omitempty" db:"priority"`
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty" db:"enqueued_at"`

	StartTime time.Time `json:"start_time" db:"start_time"`
	// ConnectedAt is when the call first went ACTIVE with an agent.
	ConnectedAt     *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds int        `json:"duration" db:"duration"`

	HoldStartTime    *time.Time `json:"hold_start_time,omitempty" db:"hold_start_time"`
	TotalHoldSeconds int        `json:"total_hold_time" db:"total_hold_time"`
	Muted            bool       `json:"muted" db:"muted"`

	Recording   bool   `json:"recording" db:"recording"`
	RecordingID string `json:"recording_id,omitempty" db:"recording_id"`

	TransferredFrom string     `json:"transferred_from,omitempty" db:"transferred_from"`
	TransferredAt   *time.Time `json:"transferred_at,omitempty" db:"transferred_at"`

	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	// HangupRequested records a hangup that arrived before the provider call id was known.
	HangupRequested bool `json:"hangup_requested,omitempty" db:"hangup_requested"`

	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusDialing    Status = "dialing"
	StatusRinging    Status = "ringing"
	StatusQueued     Status = "queued"
	StatusAssigned   Status = "assigned"
	StatusActive     Status = "active"
	StatusOnHold     Status = "on_hold"
	StatusConference Status = "conference"
	StatusCompleted  Status = "completed"
	StatusNoAnswer   Status = "no_answer"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every status in causal order.
var AllStatuses = []Status{
	StatusDialing,
	StatusRinging,
	StatusQueued,
	StatusAssigned,
	StatusActive,
	StatusOnHold,
	StatusConference,
	StatusCompleted,
	StatusNoAnswer,
	StatusFailed,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

// HoldsAgent reports whether a call in this status must carry an AgentID.
func (s Status) HoldsAgent() bool {
	switch s {
	case StatusAssigned, StatusActive, StatusOnHold, StatusConference:
		return true
	default:
		return false
	}
}

// Failure reasons recorded on FAILED calls.
const (
	ReasonQueueTimeout      = "queue_timeout"
	ReasonProviderTimeout   = "provider_timeout"
	ReasonBusy              = "busy"
	ReasonCanceled          = "canceled"
	ReasonAbandoned         = "abandoned"
	ReasonProviderFailed    = "provider_failed"
	ReasonEndedBeforeAnswer = "ended_before_answer"
	ReasonInvalidNumber     = "invalid_number"
	ReasonAssignmentFailed  = "assignment_failed"
)

// Metadata keys shared between producers of calls and the router.
const (
	// MetaQueueID names the queue an answered outbound call waits in when no agent is free.
	MetaQueueID = "queue_id"
	// MetaConsent records caller consent to recording ("granted" or "denied").
	MetaConsent = "recording_consent"
)

// HandleTime is the agent-connected portion of a finished call.
func (c Call) HandleTime() time.Duration {
	if c.ConnectedAt == nil || c.EndTime == nil || !c.EndTime.After(*c.ConnectedAt) {
		return 0
	}
	return c.EndTime.Sub(*c.ConnectedAt)
}

func (c Call) clone() Call {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	out.EnqueuedAt = cloneTime(c.EnqueuedAt)
	out.ConnectedAt = cloneTime(c.ConnectedAt)
	out.EndTime = cloneTime(c.EndTime)
	out.HoldStartTime = cloneTime(c.HoldStartTime)
	out.TransferredAt = cloneTime(c.TransferredAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
