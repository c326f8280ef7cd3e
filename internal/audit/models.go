package audit

import "time"

// Event is one entry of a workspace's call-handling audit trail. Events are appended and
// never changed.
type Event struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Type        EventType `json:"type" db:"type"`

	// Actor fields are empty for provider callbacks and background sweeps.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeForceRelease     EventType = "agent_force_release"
	EventTypeStateRejected    EventType = "call_state_rejected"
	EventTypeRecordingBlocked EventType = "recording_blocked"
	EventTypeTransfer         EventType = "call_transfer"
	EventTypeQueueAbandoned   EventType = "queue_abandoned"
)

// Known reports whether t is one of the event types this service writes.
func (t EventType) Known() bool {
	switch t {
	case EventTypeForceRelease, EventTypeStateRejected, EventTypeRecordingBlocked,
		EventTypeTransfer, EventTypeQueueAbandoned:
		return true
	}
	return false
}
