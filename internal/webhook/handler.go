package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/metrics"
	"callcenter/internal/routing"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Verifier checks the provider's request signature.
type Verifier interface {
	VerifySignature(url string, params map[string]string, headers http.Header) bool
}

// providerRole marks audit events caused by provider callbacks.
const providerRole = "provider"

// Dispatched jobs retry transient store failures before giving up on an event.
const (
	defaultRetryAttempts = 4
	defaultRetryBackoff  = 250 * time.Millisecond
)

// Handler ingests Twilio callbacks.
//
// Rules:
// - The signature is checked before anything else; a bad one gets 403 and touches nothing.
// - Status and recording callbacks are acknowledged with 204 once claimed and applied
//   by the Dispatcher, which retries transient failures with backoff.
// - Without a Dispatcher they are applied inline; a transient failure releases the key
//   and answers 503 so the provider redelivers.
// - A callback for a provider call id that is not attached yet is parked on the call
//   store and applied by AttachProviderCall.
// - The voice webhook is answered synchronously with TwiML.
type Handler struct {
	Engine   routing.Engine
	Calls    *calls.Store
	Verifier Verifier
	Keys     KeyStore

	// Optional collaborators.
	Events     EventLog
	Dispatcher *Dispatcher
	Audit      *audit.Service

	// BaseURL is the public origin the provider signs against, e.g. https://cc.example.com.
	BaseURL string

	// RetryAttempts and RetryBackoff bound dispatched retries; the backoff doubles per attempt.
	RetryAttempts int
	RetryBackoff  time.Duration

	Now func() time.Time
	Log *slog.Logger
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/voice", h.Voice)
	r.POST("/status", h.Status)
	r.POST("/recording", h.Recording)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// verify parses the form and checks its signature. It writes the error response itself.
func (h *Handler) verify(c *gin.Context, kind string) (map[string]string, bool) {
	params, err := telephony.FormParams(c.Request)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(kind, ResultRejected).Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return nil, false
	}
	url := h.BaseURL + c.Request.URL.RequestURI()
	if h.Verifier == nil || !h.Verifier.VerifySignature(url, params, c.Request.Header) {
		metrics.WebhookEvents.WithLabelValues(kind, ResultRejected).Inc()
		logger.FromGin(c).Warn("webhook signature rejected", "kind", kind, "url", url, "call_sid", params["CallSid"])
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return nil, false
	}
	return params, true
}

// Voice answers the provider's request for call instructions.
func (h *Handler) Voice(c *gin.Context) {
	log := logger.FromGin(c)
	params, ok := h.verify(c, KindVoice)
	if !ok {
		return
	}
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing not configured"})
		return
	}

	form, err := telephony.ParseTwilioInboundCall(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ctx := audit.WithActor(c.Request.Context(), audit.Actor{Role: providerRole, IP: c.ClientIP()})
	ctx = logger.With(ctx, log)

	var res telephony.InboundCallResult
	if form.IsOutboundAPI() {
		res, err = h.Engine.RouteAnsweredCall(ctx, form.CallSid)
	} else {
		res, err = h.Engine.RouteInboundCall(ctx, form.ToInboundCallRequest("", h.now()))
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(KindVoice, ResultFailed).Inc()
		log.Error("voice webhook routing failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}

	twiml, err := telephony.RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	metrics.WebhookEvents.WithLabelValues(KindVoice, ResultProcessed).Inc()
	h.record(ctx, ProviderEvent{
		Key:            Key(KindVoice, params),
		Kind:           KindVoice,
		ProviderCallID: form.CallSid,
		CallID:         res.CallID,
		Result:         string(res.Action),
		Params:         params,
	})
	log.Info("voice webhook answered", "call_sid", form.CallSid, "call_id", res.CallID, "action", res.Action)
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// Status ingests call progress callbacks.
func (h *Handler) Status(c *gin.Context) {
	params, ok := h.verify(c, KindStatus)
	if !ok {
		return
	}
	form, err := telephony.ParseTwilioStatus(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ev, mapped := StatusEvent(form)
	h.accept(c, KindStatus, form.CallSid, params, ev, mapped)
}

// Recording ingests recording status callbacks.
func (h *Handler) Recording(c *gin.Context) {
	params, ok := h.verify(c, KindRecording)
	if !ok {
		return
	}
	form, err := telephony.ParseTwilioRecording(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ev, mapped := RecordingEvent(form)
	h.accept(c, KindRecording, form.CallSid, params, ev, mapped)
}

func (h *Handler) accept(c *gin.Context, kind, sid string, params map[string]string, ev calls.Event, mapped bool) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()
	key := Key(kind, params)

	claimed, err := h.Keys.Claim(ctx, key)
	if err != nil {
		log.Error("idempotency claim failed", "key", key, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
		return
	}
	if !claimed {
		metrics.WebhookEvents.WithLabelValues(kind, ResultDuplicate).Inc()
		log.Debug("duplicate webhook acknowledged", "key", key)
		c.Status(http.StatusNoContent)
		return
	}
	if !mapped {
		metrics.WebhookEvents.WithLabelValues(kind, ResultIgnored).Inc()
		h.record(ctx, ProviderEvent{Key: key, Kind: kind, ProviderCallID: sid, Result: ResultIgnored, Params: params})
		c.Status(http.StatusNoContent)
		return
	}

	if h.Dispatcher == nil {
		if err := h.apply(context.WithoutCancel(ctx), kind, key, sid, ev, params, 1); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
			return
		}
		c.Status(http.StatusNoContent)
		return
	}
	job := func(ctx context.Context) {
		_ = h.apply(ctx, kind, key, sid, ev, params, h.retryAttempts())
	}
	if err := h.Dispatcher.Submit(job); err != nil {
		h.release(ctx, key)
		log.Warn("webhook backlog full", "kind", kind, "call_sid", sid)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) retryAttempts() int {
	if h.RetryAttempts > 0 {
		return h.RetryAttempts
	}
	return defaultRetryAttempts
}

func (h *Handler) retryBackoff() time.Duration {
	if h.RetryBackoff > 0 {
		return h.RetryBackoff
	}
	return defaultRetryBackoff
}

// apply hands one mapped callback to the call store, trying up to attempts times.
// State errors are final and keep the key, since redelivery cannot succeed. When every
// attempt fails transiently the key is released and the last error returned.
func (h *Handler) apply(ctx context.Context, kind, key, sid string, ev calls.Event, params map[string]string, attempts int) error {
	log := h.logger().With("kind", kind, "call_sid", sid, "event", ev.Type)

	var (
		call   calls.Call
		result string
		err    error
	)
	backoff := h.retryBackoff()
	for attempt := 1; ; attempt++ {
		call, result, err = h.attempt(ctx, sid, ev)
		if err == nil || attempt >= attempts {
			break
		}
		log.Warn("webhook apply failed, retrying", "attempt", attempt, "backoff", backoff, "err", err)
		if werr := wait(ctx, backoff); werr != nil {
			err = werr
			break
		}
		backoff *= 2
	}

	switch {
	case err != nil:
		result = ResultFailed
		log.Error("webhook processing failed", "attempts", attempts, "err", err)
		h.release(ctx, key)
	case result == ResultRejected:
	case result == ResultParked:
		log.Info("webhook parked until call is attached")
	default:
		log.Debug("webhook applied", "call_id", call.ID, "status", call.Status)
	}

	metrics.WebhookEvents.WithLabelValues(kind, result).Inc()
	h.record(ctx, ProviderEvent{Key: key, Kind: kind, ProviderCallID: sid, CallID: call.ID, Result: result, Params: params})
	return err
}

// attempt applies ev once. The returned error is transient; state rejections come back
// as ResultRejected with a nil error.
func (h *Handler) attempt(ctx context.Context, sid string, ev calls.Event) (calls.Call, string, error) {
	call, parked, err := h.Calls.Park(ctx, sid, ev)
	if err != nil {
		return calls.Call{}, "", err
	}
	if parked {
		return calls.Call{}, ResultParked, nil
	}
	ev.CallID = call.ID
	next, err := h.Calls.Apply(ctx, call.ID, ev)
	var se *calls.StateError
	switch {
	case err == nil:
		return next, ResultProcessed, nil
	case errors.As(err, &se):
		metrics.StateErrors.WithLabelValues(string(se.Event)).Inc()
		h.logger().Warn("webhook event rejected by call state", "call_id", se.CallID, "from", se.From, "err", err)
		if h.Audit != nil {
			if aerr := h.Audit.LogStateRejected(ctx, call.WorkspaceID, audit.Actor{Role: providerRole}, se.CallID, err.Error()); aerr != nil {
				h.logger().Warn("audit state rejection failed", "err", aerr)
			}
		}
		return call, ResultRejected, nil
	default:
		return call, "", err
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *Handler) release(ctx context.Context, key string) {
	if err := h.Keys.Release(context.WithoutCancel(ctx), key); err != nil {
		h.logger().Error("idempotency release failed", "key", key, "err", err)
	}
}

func (h *Handler) record(ctx context.Context, e ProviderEvent) {
	if h.Events == nil {
		return
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = h.now().UTC()
	}
	if err := h.Events.Record(ctx, e); err != nil {
		h.logger().Warn("provider event trail write failed", "key", e.Key, "err", err)
	}
}
