package telephony

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Twilio sends application/x-www-form-urlencoded callbacks.
// Ref: https://www.twilio.com/docs/voice/twiml#request-parameters
//
// Parsing only; mapping to call events lives in the webhook package.

// TwilioInboundForm captures the voice webhook fields we use.
type TwilioInboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	ApiVersion    string
	CallerName    string
	FromCountry   string
	ToCountry     string
	ForwardedFrom string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:       r.PostFormValue("CallSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		ApiVersion:    r.PostFormValue("ApiVersion"),
		CallerName:    r.PostFormValue("CallerName"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ToCountry:     r.PostFormValue("ToCountry"),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	return f, nil
}

// IsOutboundAPI reports whether the webhook belongs to a call we placed through the REST API.
func (f TwilioInboundForm) IsOutboundAPI() bool {
	return strings.HasPrefix(f.Direction, "outbound")
}

func (f TwilioInboundForm) ToInboundCallRequest(workspaceID string, occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		WorkspaceID:    workspaceID,
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}

// TwilioStatusForm is a call progress callback.
type TwilioStatusForm struct {
	CallSid    string
	CallStatus string
	// SequenceNumber orders callbacks for one call; -1 when absent.
	SequenceNumber int
	Timestamp      time.Time
	// CallDuration is reported on completed calls, in seconds.
	CallDuration int
	SipCode      int
	ErrorCode    string
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:        r.PostFormValue("CallSid"),
		CallStatus:     strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		SequenceNumber: atoiOr(r.PostFormValue("SequenceNumber"), -1),
		CallDuration:   atoiOr(r.PostFormValue("CallDuration"), 0),
		SipCode:        atoiOr(r.PostFormValue("SipResponseCode"), 0),
		ErrorCode:      r.PostFormValue("ErrorCode"),
	}
	if ts := r.PostFormValue("Timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			f.Timestamp = t.UTC()
		}
	}
	return f, nil
}

// TwilioRecordingForm is a recording status callback.
type TwilioRecordingForm struct {
	CallSid           string
	RecordingSid      string
	RecordingStatus   string
	RecordingURL      string
	RecordingDuration int
}

func ParseTwilioRecording(r *http.Request) (TwilioRecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioRecordingForm{}, err
	}
	return TwilioRecordingForm{
		CallSid:           r.PostFormValue("CallSid"),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingStatus:   strings.ToLower(r.PostFormValue("RecordingStatus")),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: atoiOr(r.PostFormValue("RecordingDuration"), 0),
	}, nil
}

// FormParams flattens the posted form for signature validation. Twilio signs the
// first value of each key.
func FormParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

// normalizePhone returns E.164 when the value parses as a number; Twilio also sends
// "anonymous", client identities and SIP URIs, which are kept as-is.
func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if n, err := NormalizeE164(s); err == nil {
		return n
	}
	return s
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
