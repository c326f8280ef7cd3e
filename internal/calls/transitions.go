package calls

import "time"

// Outcome is the result of looking up (status, event) in the transition table.
type Outcome int

const (
	// Reject: the request is outside the graph; a StateError is returned.
	Reject Outcome = iota
	// Move: the call enters rule.To (possibly the same status for field-only changes).
	Move
	// Ignore: stale or duplicate event; nothing changes and no error is returned.
	Ignore
)

type rule struct {
	Outcome Outcome
	To      Status
	// Via lists intermediate statuses walked for out-of-order provider events.
	Via []Status
	// Reason is recorded as FailureReason when To is FAILED and the payload has none.
	Reason string
}

func move(to Status) rule                { return rule{Outcome: Move, To: to} }
func fail(reason string) rule            { return rule{Outcome: Move, To: StatusFailed, Reason: reason} }
func via(to Status, path ...Status) rule { return rule{Outcome: Move, To: to, Via: path} }

var ignore = rule{Outcome: Ignore}

// edges is the call state graph. Every Move in table must follow it (Via included).
var edges = map[Status][]Status{
	StatusDialing:    {StatusRinging, StatusFailed},
	StatusRinging:    {StatusQueued, StatusAssigned, StatusNoAnswer, StatusFailed},
	StatusQueued:     {StatusAssigned, StatusFailed},
	StatusAssigned:   {StatusActive, StatusFailed},
	StatusActive:     {StatusOnHold, StatusConference, StatusCompleted, StatusFailed},
	StatusOnHold:     {StatusActive, StatusCompleted, StatusFailed},
	StatusConference: {StatusActive, StatusCompleted, StatusFailed},
}

// CanReach reports whether to is a direct successor of from in the graph.
// Field-only updates (from == to) are always allowed for non-terminal statuses.
func CanReach(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// table maps status × event. Pairs missing from a non-terminal row are rejected.
// Terminal rows are handled in decide: provider redelivery is ignored, control requests
// are rejected. RecordingReady is the one annotation accepted after termination,
// because recording callbacks arrive after the call ends.
var table = map[Status]map[EventType]rule{
	StatusDialing: {
		EventRinging:        move(StatusRinging),
		EventAnswered:       move(StatusRinging),
		EventNoAnswer:       via(StatusNoAnswer, StatusRinging),
		EventBusy:           fail(ReasonBusy),
		EventProviderFailed: fail(ReasonProviderFailed),
		EventCanceled:       fail(ReasonCanceled),
		EventCompleted:      fail(ReasonEndedBeforeAnswer),
		EventHangup:         fail(ReasonCanceled),
		EventFail:           fail(ReasonProviderFailed),
		EventRecordingReady: ignore,
	},
	StatusRinging: {
		EventRinging:        ignore,
		EventAnswered:       ignore,
		EventQueue:          move(StatusQueued),
		EventAssign:         move(StatusAssigned),
		EventNoAnswer:       move(StatusNoAnswer),
		EventBusy:           fail(ReasonBusy),
		EventProviderFailed: fail(ReasonProviderFailed),
		EventCanceled:       fail(ReasonAbandoned),
		EventCompleted:      fail(ReasonAbandoned),
		EventHangup:         fail(ReasonCanceled),
		EventFail:           fail(ReasonProviderFailed),
		EventRecordingReady: ignore,
	},
	StatusQueued: {
		EventRinging:        ignore,
		EventAnswered:       ignore,
		EventNoAnswer:       fail(ReasonAbandoned),
		EventAssign:         move(StatusAssigned),
		EventQueueTimeout:   fail(ReasonQueueTimeout),
		EventBusy:           fail(ReasonBusy),
		EventProviderFailed: fail(ReasonProviderFailed),
		EventCanceled:       fail(ReasonAbandoned),
		EventCompleted:      fail(ReasonAbandoned),
		EventHangup:         fail(ReasonCanceled),
		EventFail:           fail(ReasonProviderFailed),
		EventRecordingReady: ignore,
	},
	StatusAssigned: {
		EventRinging:        ignore,
		EventAnswered:       move(StatusActive),
		EventConnect:        move(StatusActive),
		EventNoAnswer:       fail(ReasonAbandoned),
		EventBusy:           fail(ReasonBusy),
		EventProviderFailed: fail(ReasonProviderFailed),
		EventCanceled:       fail(ReasonAbandoned),
		EventCompleted:      fail(ReasonAbandoned),
		EventHangup:         fail(ReasonCanceled),
		EventFail:           fail(ReasonProviderFailed),
		EventRecordingReady: ignore,
	},
	StatusActive: {
		EventRinging:          ignore,
		EventAnswered:         ignore,
		EventNoAnswer:         ignore,
		EventBusy:             ignore,
		EventCanceled:         ignore,
		EventConnect:          ignore,
		EventUnhold:           ignore,
		EventHold:             move(StatusOnHold),
		EventMute:             move(StatusActive),
		EventUnmute:           move(StatusActive),
		EventConferenceStart:  move(StatusConference),
		EventCompleted:        move(StatusCompleted),
		EventHangup:           move(StatusCompleted),
		EventProviderFailed:   fail(ReasonProviderFailed),
		EventFail:             fail(ReasonProviderFailed),
		EventRecordingStarted: move(StatusActive),
		EventRecordingStopped: move(StatusActive),
		EventRecordingReady:   move(StatusActive),
	},
	StatusOnHold: {
		EventRinging:          ignore,
		EventAnswered:         ignore,
		EventNoAnswer:         ignore,
		EventBusy:             ignore,
		EventCanceled:         ignore,
		EventHold:             ignore,
		EventUnhold:           move(StatusActive),
		EventMute:             move(StatusOnHold),
		EventUnmute:           move(StatusOnHold),
		EventCompleted:        move(StatusCompleted),
		EventHangup:           move(StatusCompleted),
		EventProviderFailed:   fail(ReasonProviderFailed),
		EventFail:             fail(ReasonProviderFailed),
		EventRecordingStarted: move(StatusOnHold),
		EventRecordingStopped: move(StatusOnHold),
		EventRecordingReady:   move(StatusOnHold),
	},
	StatusConference: {
		EventRinging:          ignore,
		EventAnswered:         ignore,
		EventNoAnswer:         ignore,
		EventBusy:             ignore,
		EventCanceled:         ignore,
		EventTransferComplete: move(StatusActive),
		EventMute:             move(StatusConference),
		EventUnmute:           move(StatusConference),
		EventCompleted:        move(StatusCompleted),
		EventHangup:           move(StatusCompleted),
		EventProviderFailed:   fail(ReasonProviderFailed),
		EventFail:             fail(ReasonProviderFailed),
		EventRecordingStarted: move(StatusConference),
		EventRecordingStopped: move(StatusConference),
		EventRecordingReady:   move(StatusConference),
	},
}

func decide(from Status, t EventType) rule {
	if from.Terminal() {
		if t == EventRecordingReady {
			return rule{Outcome: Move, To: from}
		}
		if t.Source() == SourceProvider {
			return ignore
		}
		return rule{Outcome: Reject}
	}
	row, ok := table[from]
	if !ok {
		return rule{Outcome: Reject}
	}
	r, ok := row[t]
	if !ok {
		return rule{Outcome: Reject}
	}
	return r
}

// Decide exposes the table lookup for callers that want to pre-check a request.
func Decide(from Status, t EventType) (Outcome, Status) {
	r := decide(from, t)
	return r.Outcome, r.To
}

// transition applies ev to c. changed is false for ignored events.
// c must be a private copy; it is modified in place and returned.
func transition(c Call, ev Event, now time.Time) (out Call, changed bool, err error) {
	r := decide(c.Status, ev.Type)
	switch r.Outcome {
	case Ignore:
		return c, false, nil
	case Reject:
		return c, false, &StateError{CallID: c.ID, From: c.Status, Event: ev.Type}
	}

	at := ev.At
	if at.IsZero() {
		at = now
	}

	switch ev.Type {
	case EventAssign, EventTransferComplete:
		if ev.Payload.AgentID == "" {
			return c, false, &StateError{CallID: c.ID, From: c.Status, Event: ev.Type, Detail: "agent id required"}
		}
	case EventQueue:
		if ev.Payload.QueueID == "" {
			return c, false, &StateError{CallID: c.ID, From: c.Status, Event: ev.Type, Detail: "queue id required"}
		}
	}

	from := c.Status
	if from == StatusOnHold && r.To != StatusOnHold {
		endHold(&c, at)
	}

	switch ev.Type {
	case EventQueue:
		c.QueueID = ev.Payload.QueueID
		c.Priority = ev.Payload.Priority
		c.EnqueuedAt = &at
	case EventAssign:
		c.AgentID = ev.Payload.AgentID
	case EventHold:
		c.HoldStartTime = &at
	case EventMute:
		c.Muted = true
	case EventUnmute:
		c.Muted = false
	case EventConferenceStart:
		c.TransferredFrom = c.AgentID
		c.TransferredAt = &at
	case EventTransferComplete:
		c.AgentID = ev.Payload.AgentID
		c.Muted = false
	case EventRecordingStarted:
		c.Recording = true
		if ev.Payload.RecordingID != "" {
			c.RecordingID = ev.Payload.RecordingID
		}
	case EventRecordingStopped:
		c.Recording = false
	case EventRecordingReady:
		if ev.Payload.RecordingID != "" {
			c.RecordingID = ev.Payload.RecordingID
		}
	}

	if r.To == StatusActive && c.ConnectedAt == nil {
		connected := at
		c.ConnectedAt = &connected
	}

	if r.To.Terminal() && !from.Terminal() {
		end := at
		c.EndTime = &end
		d := ev.Payload.DurationSeconds
		if d <= 0 && !c.StartTime.IsZero() && at.After(c.StartTime) {
			d = int(at.Sub(c.StartTime) / time.Second)
		}
		c.DurationSeconds = d
		c.AgentID = ""
		c.Muted = false
		c.Recording = false
		c.HoldStartTime = nil
		if r.To == StatusFailed {
			c.FailureReason = ev.Payload.Reason
			if c.FailureReason == "" {
				c.FailureReason = r.Reason
			}
		}
	}

	c.Status = r.To
	c.UpdatedAt = now
	return c, true, nil
}

func endHold(c *Call, at time.Time) {
	if c.HoldStartTime != nil && at.After(*c.HoldStartTime) {
		c.TotalHoldSeconds += int(at.Sub(*c.HoldStartTime) / time.Second)
	}
	c.HoldStartTime = nil
}
