package telephony

import (
	"context"
	"time"
)

// Client is the vendor boundary. Implementations translate vendor errors into
// *ProviderError and must return promptly once ctx is done.
//
// Rules:
// - No vendor SDK calls outside telephony.
// - Numbers passed in are already E.164.
type Client interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (providerCallID string, err error)
	// EndCall completes a live call. Ending a call that already ended returns KindNotFound.
	EndCall(ctx context.Context, providerCallID string) error
	// RedirectCall replaces the call's current instructions with twiml.
	RedirectCall(ctx context.Context, providerCallID, twiml string) error
	StartRecording(ctx context.Context, providerCallID, statusCallbackURL string) (recordingID string, err error)
	// StopRecording stops the recording in progress and returns its id.
	StopRecording(ctx context.Context, providerCallID string) (recordingID string, err error)
	ValidateSignature(url string, params map[string]string, signature string) bool
}

type CreateCallRequest struct {
	To   string
	From string
	// AnswerURL is fetched by the provider for call instructions once the callee answers.
	AnswerURL string
	// StatusCallbackURL receives call progress callbacks.
	StatusCallbackURL string
	// RingTimeout bounds how long the provider rings before reporting no-answer.
	RingTimeout time.Duration
}

// InboundCallRequest represents an inbound call received from the provider.
type InboundCallRequest struct {
	WorkspaceID string `json:"workspace_id"`

	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	// OccurredAt is the provider event time.
	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult tells the provider what to do with the caller's leg.
type InboundCallResult struct {
	WorkspaceID string `json:"workspace_id"`
	CallID      string `json:"call_id"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is the agent endpoint when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`

	// QueueID names the provider hold queue when Action == "enqueue".
	QueueID string `json:"queue_id,omitempty"`

	// Message is read to the caller before connecting or holding.
	Message string `json:"message,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionEnqueue InboundCallAction = "enqueue"
	InboundCallActionHangup  InboundCallAction = "hangup"
)
