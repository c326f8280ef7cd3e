package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"callcenter/internal/metrics"

	"golang.org/x/time/rate"
)

const signatureHeader = "X-Twilio-Signature"

type AdapterConfig struct {
	// Timeout bounds every provider operation, retries included.
	Timeout time.Duration
	// RatePerSecond and Burst throttle outgoing provider requests.
	RatePerSecond float64
	Burst         int
	Retry         RetryPolicy
	// AnswerURL is where the provider fetches instructions for placed calls.
	AnswerURL   string
	RingTimeout time.Duration
	// LateCreateWindow is how long a call placement keeps waiting for the provider after
	// Timeout fired. A call created in that window is hung up.
	LateCreateWindow time.Duration
}

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.Retry.MaxRetries == nil {
		c.Retry = DefaultRetryPolicy()
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.LateCreateWindow <= 0 {
		c.LateCreateWindow = time.Minute
	}
	return c
}

// Adapter is the provider boundary used by the rest of the service. It validates
// numbers locally, throttles, bounds every operation with a timeout and applies
// the retry policy for the operation class.
type Adapter struct {
	client  Client
	cfg     AdapterConfig
	limiter *rate.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewAdapter(client Client, cfg AdapterConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Adapter{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log,
		sleep:   sleepCtx,
	}
}

// PlaceCall dials to from the given caller id. It is never retried.
func (a *Adapter) PlaceCall(ctx context.Context, to, from, callbackURL string) (string, error) {
	toN, err := NormalizeE164(to)
	if err != nil {
		return "", a.fail("place_call", err)
	}
	fromN, err := NormalizeE164(from)
	if err != nil {
		return "", a.fail("place_call", err)
	}
	var sid string
	err = a.run(ctx, "place_call", OpCreate, func(ctx context.Context) error {
		var err error
		sid, err = a.createCall(ctx, CreateCallRequest{
			To:                toN,
			From:              fromN,
			AnswerURL:         a.cfg.AnswerURL,
			StatusCallbackURL: callbackURL,
			RingTimeout:       a.cfg.RingTimeout,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	a.log.Info("provider call placed", "provider_call_id", sid, "to", toN)
	return sid, nil
}

type createResult struct {
	sid string
	err error
}

// createCall keeps the provider request alive past ctx so a call the provider creates
// after we gave up is still learned and hung up, not left ringing.
func (a *Adapter) createCall(ctx context.Context, req CreateCallRequest) (string, error) {
	ch := make(chan createResult, 1)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timeout+a.cfg.LateCreateWindow)
	go func() {
		defer cancel()
		sid, err := a.client.CreateCall(cctx, req)
		ch <- createResult{sid: sid, err: err}
	}()
	select {
	case r := <-ch:
		return r.sid, r.err
	case <-ctx.Done():
		go a.hangupLate(req.To, ch)
		return "", ctx.Err()
	}
}

func (a *Adapter) hangupLate(to string, ch <-chan createResult) {
	r := <-ch
	if r.err != nil || r.sid == "" {
		return
	}
	a.log.Warn("provider created call after placement timed out, hanging up", "provider_call_id", r.sid, "to", to)
	metrics.ProviderErrors.WithLabelValues("place_call", "late_create").Inc()
	if err := a.Hangup(context.Background(), r.sid); err != nil {
		a.log.Error("hangup of late created call failed", "provider_call_id", r.sid, "err", err)
	}
}

// Hangup ends a call. A call the provider no longer knows as live counts as hung up.
func (a *Adapter) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return &ProviderError{Kind: KindNotFound, Op: "hangup", Err: errors.New("empty provider call id")}
	}
	err := a.run(ctx, "hangup", OpHangup, func(ctx context.Context) error {
		return a.client.EndCall(ctx, providerCallID)
	})
	if IsKind(err, KindNotFound) {
		a.log.Debug("hangup on ended call", "provider_call_id", providerCallID)
		return nil
	}
	return err
}

// Transfer redirects the live leg to target: an agent endpoint ("client:<id>",
// "sip:<uri>") or a phone number.
func (a *Adapter) Transfer(ctx context.Context, providerCallID, target string) error {
	dial, err := dialTarget(target)
	if err != nil {
		return a.fail("transfer", err)
	}
	twiml, err := RenderDial(dial)
	if err != nil {
		return a.fail("transfer", err)
	}
	return a.run(ctx, "transfer", OpUpdate, func(ctx context.Context) error {
		return a.client.RedirectCall(ctx, providerCallID, twiml)
	})
}

func (a *Adapter) StartRecording(ctx context.Context, providerCallID, callbackURL string) (string, error) {
	var rid string
	err := a.run(ctx, "start_recording", OpUpdate, func(ctx context.Context) error {
		var err error
		rid, err = a.client.StartRecording(ctx, providerCallID, callbackURL)
		return err
	})
	return rid, err
}

func (a *Adapter) StopRecording(ctx context.Context, providerCallID string) (string, error) {
	var rid string
	err := a.run(ctx, "stop_recording", OpUpdate, func(ctx context.Context) error {
		var err error
		rid, err = a.client.StopRecording(ctx, providerCallID)
		return err
	})
	return rid, err
}

// VerifySignature checks the provider's HMAC signature over the full callback URL and
// the posted form parameters.
func (a *Adapter) VerifySignature(url string, params map[string]string, headers http.Header) bool {
	sig := strings.TrimSpace(headers.Get(signatureHeader))
	if sig == "" {
		return false
	}
	return a.client.ValidateSignature(url, params, sig)
}

func (a *Adapter) run(ctx context.Context, op string, class OpClass, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return a.fail(op, &ProviderError{Kind: KindUnknown, Err: ctx.Err()})
			}
			return a.fail(op, &ProviderError{Kind: KindRateLimited, Err: err})
		}

		err := classify(ctx, fn(ctx))
		if err == nil {
			return nil
		}
		if !a.cfg.Retry.ShouldRetry(class, attempt, err) {
			return a.fail(op, err)
		}
		a.log.Warn("provider operation failed, retrying", "op", op, "attempt", attempt, "err", err)
		if serr := a.sleep(ctx, a.cfg.Retry.Backoff); serr != nil {
			return a.fail(op, &ProviderError{Kind: KindTimeout, Err: serr})
		}
	}
}

// classify turns raw client failures into ProviderErrors. A deadline is always a Timeout.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Kind: KindUnknown, Err: err}
}

func (a *Adapter) fail(op string, err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		pe = &ProviderError{Kind: KindUnknown, Err: err}
	}
	out := *pe
	out.Op = op
	metrics.ProviderErrors.WithLabelValues(op, string(out.Kind)).Inc()
	if out.Kind == KindAuthFailure {
		metrics.ProviderAuthFailures.Inc()
		a.log.Error("provider rejected credentials", "op", op, "err", out.Err)
	}
	return &out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
