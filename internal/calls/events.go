package calls

import "time"

// EventType tags the variant carried by Event.
type EventType string

// Provider-sourced events, produced by webhook ingestion.
const (
	EventRinging        EventType = "ringing"
	EventAnswered       EventType = "answered"
	EventCompleted      EventType = "completed"
	EventNoAnswer       EventType = "no_answer"
	EventBusy           EventType = "busy"
	EventProviderFailed EventType = "provider_failed"
	EventCanceled       EventType = "canceled"
	EventRecordingReady EventType = "recording_ready"
)

// Control-sourced events, produced by the router, dialer and call-control surface.
const (
	EventQueue            EventType = "queue"
	EventAssign           EventType = "assign"
	EventConnect          EventType = "connect"
	EventHold             EventType = "hold"
	EventUnhold           EventType = "unhold"
	EventMute             EventType = "mute"
	EventUnmute           EventType = "unmute"
	EventConferenceStart  EventType = "conference_start"
	EventTransferComplete EventType = "transfer_complete"
	EventHangup           EventType = "hangup"
	EventQueueTimeout     EventType = "queue_timeout"
	EventFail             EventType = "fail"
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
)

// AllEventTypes is used to check the transition table for coverage.
var AllEventTypes = []EventType{
	EventRinging, EventAnswered, EventCompleted, EventNoAnswer, EventBusy,
	EventProviderFailed, EventCanceled, EventRecordingReady,
	EventQueue, EventAssign, EventConnect, EventHold, EventUnhold, EventMute, EventUnmute,
	EventConferenceStart, EventTransferComplete, EventHangup, EventQueueTimeout, EventFail,
	EventRecordingStarted, EventRecordingStopped,
}

type Source int

const (
	SourceProvider Source = iota
	SourceControl
)

func (t EventType) Source() Source {
	switch t {
	case EventRinging, EventAnswered, EventCompleted, EventNoAnswer, EventBusy,
		EventProviderFailed, EventCanceled, EventRecordingReady:
		return SourceProvider
	default:
		return SourceControl
	}
}

// Event is one requested state change for a call.
type Event struct {
	Type    EventType `json:"type"`
	CallID  string    `json:"call_id"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Payload holds the variant-specific fields. Which fields are read depends on Type:
//   - EventAssign, EventTransferComplete: AgentID (required)
//   - EventQueue: QueueID (required), Priority
//   - EventFail, EventProviderFailed: Reason
//   - EventRecordingStarted, EventRecordingReady: RecordingID
//   - EventCompleted: DurationSeconds when the provider reports it
type Payload struct {
	AgentID         string `json:"agent_id,omitempty"`
	QueueID         string `json:"queue_id,omitempty"`
	Priority        int    `json:"priority,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RecordingID     string `json:"recording_id,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}
