package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the call flow needs are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlEnqueue struct {
	XMLName xml.Name `xml:"Enqueue"`
	Name    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name     `xml:"Dial"`
	Number  string       `xml:"Number,omitempty"`
	Client  *twimlClient `xml:"Client,omitempty"`
	Sip     *twimlSip    `xml:"Sip,omitempty"`
}

type twimlClient struct {
	Identity string `xml:",chardata"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// dialTarget maps an endpoint to a Dial noun: "client:<identity>", "sip:<uri>" or a phone number.
func dialTarget(target string) (twimlDial, error) {
	t := strings.TrimSpace(target)
	lower := strings.ToLower(t)
	switch {
	case t == "":
		return twimlDial{}, &ProviderError{Kind: KindInvalidNumber, Op: "dial", Err: errors.New("empty dial target")}
	case strings.HasPrefix(lower, "client:"):
		id := strings.TrimSpace(t[len("client:"):])
		if id == "" {
			return twimlDial{}, &ProviderError{Kind: KindInvalidNumber, Op: "dial", Err: errors.New("empty client identity")}
		}
		return twimlDial{Client: &twimlClient{Identity: id}}, nil
	case strings.HasPrefix(lower, "sip:"):
		return twimlDial{Sip: &twimlSip{URI: t}}, nil
	default:
		n, err := NormalizeE164(t)
		if err != nil {
			return twimlDial{}, err
		}
		return twimlDial{Number: n}, nil
	}
}

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse
	if msg := strings.TrimSpace(res.Message); msg != "" && res.Action != InboundCallActionReject {
		r.Verbs = append(r.Verbs, twimlSay{Text: msg})
	}

	switch res.Action {
	case InboundCallActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case InboundCallActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case InboundCallActionConnect:
		if strings.TrimSpace(res.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		d, err := dialTarget(res.ConnectTo)
		if err != nil {
			return "", err
		}
		r.Verbs = append(r.Verbs, d)
	case InboundCallActionEnqueue:
		if strings.TrimSpace(res.QueueID) == "" {
			return "", errors.New("telephony: queue_id required for enqueue action")
		}
		r.Verbs = append(r.Verbs, twimlEnqueue{Name: res.QueueID})
	default:
		return "", errors.New("telephony: unknown inbound action")
	}
	return encode(r)
}

// RenderDial renders a response that bridges the current leg to d.
func RenderDial(d twimlDial) (string, error) {
	return encode(twimlResponse{Verbs: []any{d}})
}

func encode(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
