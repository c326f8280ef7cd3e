package webhook

import (
	"callcenter/internal/calls"
	"callcenter/internal/telephony"
)

// Twilio CallStatus values.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#call-status-values
const (
	twilioQueued     = "queued"
	twilioInitiated  = "initiated"
	twilioRinging    = "ringing"
	twilioInProgress = "in-progress"
	twilioCompleted  = "completed"
	twilioBusy       = "busy"
	twilioNoAnswer   = "no-answer"
	twilioFailed     = "failed"
	twilioCanceled   = "canceled"
)

// StatusEvent maps a call progress callback to a call event. ok is false for statuses
// that carry no state change (queued, initiated, unknown values).
func StatusEvent(f telephony.TwilioStatusForm) (calls.Event, bool) {
	ev := calls.Event{At: f.Timestamp}
	switch f.CallStatus {
	case twilioRinging:
		ev.Type = calls.EventRinging
	case twilioInProgress:
		ev.Type = calls.EventAnswered
	case twilioCompleted:
		ev.Type = calls.EventCompleted
		ev.Payload.DurationSeconds = f.CallDuration
	case twilioBusy:
		ev.Type = calls.EventBusy
	case twilioNoAnswer:
		ev.Type = calls.EventNoAnswer
	case twilioFailed:
		ev.Type = calls.EventProviderFailed
		ev.Payload.Reason = calls.ReasonProviderFailed
	case twilioCanceled:
		ev.Type = calls.EventCanceled
	default:
		return calls.Event{}, false
	}
	return ev, true
}

// RecordingEvent maps a recording callback. Only finished recordings are recorded.
func RecordingEvent(f telephony.TwilioRecordingForm) (calls.Event, bool) {
	if f.RecordingStatus != "completed" || f.RecordingSid == "" {
		return calls.Event{}, false
	}
	return calls.Event{
		Type:    calls.EventRecordingReady,
		Payload: calls.Payload{RecordingID: f.RecordingSid},
	}, true
}
