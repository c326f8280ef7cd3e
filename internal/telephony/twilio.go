package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrMissingCredentials is fatal at startup: without credentials the router and dialer must not run.
var ErrMissingCredentials = errors.New("telephony: twilio account sid and auth token are required")

// Twilio error codes the adapter branches on.
const (
	twilioCodeAuth          = 20003
	twilioCodeNotFound      = 20404
	twilioCodeTooMany       = 20429
	twilioCodeInvalidTo     = 21211
	twilioCodeInvalidFrom   = 21212
	twilioCodeUnverifiedTo  = 21214
	twilioCodeNotInProgress = 21220
	twilioCodeGeoBlocked    = 21215
)

// callProgressEvents are the status callbacks requested for placed calls.
var callProgressEvents = []string{"initiated", "ringing", "answered", "completed"}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// TwilioClient implements Client on the Twilio REST API (2010-04-01).
type TwilioClient struct {
	rest      *twilio.RestClient
	validator client.RequestValidator
}

func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	return &TwilioClient{
		rest:      twilio.NewRestClientWithParams(twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken}),
		validator: client.NewRequestValidator(cfg.AuthToken),
	}, nil
}

func (c *TwilioClient) CreateCall(ctx context.Context, req CreateCallRequest) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.AnswerURL)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent(callProgressEvents)
	}
	if req.RingTimeout > 0 {
		params.SetTimeout(int(req.RingTimeout / time.Second))
	}

	resp, err := withContext(ctx, func() (*api.ApiV2010Call, error) {
		return c.rest.Api.CreateCall(params)
	})
	if err != nil {
		return "", mapTwilioErr(err)
	}
	if resp == nil || resp.Sid == nil {
		return "", &ProviderError{Kind: KindUnknown, Err: errors.New("create call returned no sid")}
	}
	return *resp.Sid, nil
}

func (c *TwilioClient) EndCall(ctx context.Context, providerCallID string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := withContext(ctx, func() (*api.ApiV2010Call, error) {
		return c.rest.Api.UpdateCall(providerCallID, params)
	})
	return mapTwilioErr(err)
}

func (c *TwilioClient) RedirectCall(ctx context.Context, providerCallID, twiml string) error {
	params := &api.UpdateCallParams{}
	params.SetTwiml(twiml)
	_, err := withContext(ctx, func() (*api.ApiV2010Call, error) {
		return c.rest.Api.UpdateCall(providerCallID, params)
	})
	return mapTwilioErr(err)
}

func (c *TwilioClient) StartRecording(ctx context.Context, providerCallID, statusCallbackURL string) (string, error) {
	params := &api.CreateCallRecordingParams{}
	if statusCallbackURL != "" {
		params.SetRecordingStatusCallback(statusCallbackURL)
		params.SetRecordingStatusCallbackEvent([]string{"completed"})
	}
	resp, err := withContext(ctx, func() (*api.ApiV2010CallRecording, error) {
		return c.rest.Api.CreateCallRecording(providerCallID, params)
	})
	if err != nil {
		return "", mapTwilioErr(err)
	}
	if resp == nil || resp.Sid == nil {
		return "", &ProviderError{Kind: KindUnknown, Err: errors.New("create recording returned no sid")}
	}
	return *resp.Sid, nil
}

func (c *TwilioClient) StopRecording(ctx context.Context, providerCallID string) (string, error) {
	params := &api.UpdateCallRecordingParams{}
	params.SetStatus("stopped")
	// Twilio.CURRENT addresses the recording in progress without tracking its sid.
	resp, err := withContext(ctx, func() (*api.ApiV2010CallRecording, error) {
		return c.rest.Api.UpdateCallRecording(providerCallID, "Twilio.CURRENT", params)
	})
	if err != nil {
		return "", mapTwilioErr(err)
	}
	if resp == nil || resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

func (c *TwilioClient) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// withContext runs a blocking SDK call and gives up when ctx is done.
// The SDK call itself is bounded by the HTTP client's own timeout. Call creation is
// given a context that outlives the caller's deadline, see Adapter.createCall.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func mapTwilioErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	var te *client.TwilioRestError
	if !errors.As(err, &te) {
		return &ProviderError{Kind: KindUnknown, Err: err}
	}
	pe := &ProviderError{Code: te.Code, Err: errors.New(te.Message)}
	switch {
	case te.Code == twilioCodeAuth || te.Status == http.StatusUnauthorized:
		pe.Kind = KindAuthFailure
	case te.Code == twilioCodeTooMany || te.Status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimited
	case te.Code == twilioCodeInvalidTo, te.Code == twilioCodeInvalidFrom,
		te.Code == twilioCodeUnverifiedTo, te.Code == twilioCodeGeoBlocked:
		pe.Kind = KindInvalidNumber
	case te.Code == twilioCodeNotFound, te.Code == twilioCodeNotInProgress, te.Status == http.StatusNotFound:
		pe.Kind = KindNotFound
	default:
		pe.Kind = KindUnknown
	}
	return pe
}
