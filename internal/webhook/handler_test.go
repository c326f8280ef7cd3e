package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/locks"
	"callcenter/internal/metrics"
	"callcenter/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headerVerifier struct{}

func (headerVerifier) VerifySignature(_ string, _ map[string]string, headers http.Header) bool {
	return headers.Get("X-Twilio-Signature") == "good"
}

type stubEngine struct {
	mu       sync.Mutex
	inbound  []telephony.InboundCallRequest
	answered []string
	result   telephony.InboundCallResult
}

func (e *stubEngine) RouteInboundCall(_ context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound = append(e.inbound, req)
	return e.result, nil
}

func (e *stubEngine) RouteAnsweredCall(_ context.Context, providerCallID string) (telephony.InboundCallResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answered = append(e.answered, providerCallID)
	return e.result, nil
}

type changeCounter struct {
	mu      sync.Mutex
	changes []calls.Change
}

func (c *changeCounter) CallChanged(_ context.Context, ch calls.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

// flakyRepo fails the next n updates.
type flakyRepo struct {
	calls.Repository
	failures atomic.Int32
}

var errDBDown = errors.New("db unavailable")

func (r *flakyRepo) Update(ctx context.Context, c calls.Call, expectedVersion int64) error {
	if r.failures.Add(-1) >= 0 {
		return errDBDown
	}
	return r.Repository.Update(ctx, c, expectedVersion)
}

type fixture struct {
	store   *calls.Store
	repo    *flakyRepo
	engine  *stubEngine
	events  *MemoryEventLog
	changes *changeCounter
	handler *Handler
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := &flakyRepo{Repository: calls.NewMemoryRepo()}
	f := &fixture{
		store:   calls.NewStore(repo, locks.NewLocal(), nil),
		repo:    repo,
		engine:  &stubEngine{},
		events:  NewMemoryEventLog(),
		changes: &changeCounter{},
	}
	f.store.Subscribe(f.changes)
	f.handler = &Handler{
		Engine:       f.engine,
		Calls:        f.store,
		Verifier:     headerVerifier{},
		Keys:         NewMemoryKeyStore(time.Hour),
		Events:       f.events,
		BaseURL:      "https://cc.example.com",
		RetryBackoff: time.Millisecond,
	}
	f.router = gin.New()
	f.handler.Register(f.router.Group("/webhooks/twilio"))
	return f
}

// withDispatcher runs callbacks on a live dispatcher until the test ends.
func (f *fixture) withDispatcher(t *testing.T) {
	t.Helper()
	d := NewDispatcher(2, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})
	f.handler.Dispatcher = d
}

func (f *fixture) results() map[string]string {
	out := map[string]string{}
	for _, e := range f.events.Events() {
		out[e.Key] = e.Result
	}
	return out
}

func (f *fixture) post(path, signature string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func status(sid, callStatus, seq string) url.Values {
	v := url.Values{"CallSid": {sid}, "CallStatus": {callStatus}}
	if seq != "" {
		v.Set("SequenceNumber", seq)
	}
	return v
}

func (f *fixture) outboundCall(t *testing.T, sid string) calls.Call {
	t.Helper()
	c, err := f.store.Create(context.Background(), calls.Call{Direction: calls.DirectionOutbound, From: "+15550000001", To: "+15550000002"})
	require.NoError(t, err)
	c, _, err = f.store.AttachProviderCall(context.Background(), c.ID, sid)
	require.NoError(t, err)
	return c
}

func TestStatus_BadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")

	w := f.post("/webhooks/twilio/status", "forged", status("CA1", "completed", "3"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.post("/webhooks/twilio/status", "", status("CA1", "completed", "3"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDialing, got.Status)
	assert.Equal(t, 0, f.changes.Len())
	assert.Empty(t, f.events.Events())
}

func TestStatus_ReplayIsProcessedOnce(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")
	dupes := testutil.ToFloat64(metrics.WebhookEvents.WithLabelValues(KindStatus, ResultDuplicate))

	for i := 0; i < 3; i++ {
		w := f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusRinging, got.Status)
	assert.Equal(t, 1, f.changes.Len())
	assert.Equal(t, dupes+2, testutil.ToFloat64(metrics.WebhookEvents.WithLabelValues(KindStatus, ResultDuplicate)))
	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, "twilio:CA1:ringing:1", f.events.Events()[0].Key)
}

func TestStatus_OutOfOrderEventsAreNoOps(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")

	w := f.post("/webhooks/twilio/status", "good", status("CA1", "no-answer", "2"))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = f.post("/webhooks/twilio/status", "good", status("CA1", "initiated", "0"))
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusNoAnswer, got.Status)
	// DIALING jumps straight to NO_ANSWER; the late ringing is stale.
	assert.Equal(t, 1, f.changes.Len())

	results := map[string]string{}
	for _, e := range f.events.Events() {
		results[e.Key] = e.Result
	}
	assert.Equal(t, ResultProcessed, results["twilio:CA1:no-answer:2"])
	assert.Equal(t, ResultProcessed, results["twilio:CA1:ringing:1"])
	assert.Equal(t, ResultIgnored, results["twilio:CA1:initiated:0"])
}

func TestStatus_CompletedCarriesDuration(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")
	ctx := context.Background()
	_, err := f.store.Do(ctx, c.ID, func(sess *calls.Session) error {
		for _, ev := range []calls.Event{
			{Type: calls.EventRinging},
			{Type: calls.EventAssign, Payload: calls.Payload{AgentID: "a1"}},
			{Type: calls.EventConnect},
		} {
			if _, err := sess.Apply(ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	form := status("CA1", "completed", "5")
	form.Set("CallDuration", "42")
	w := f.post("/webhooks/twilio/status", "good", form)
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, got.Status)
	assert.Equal(t, 42, got.DurationSeconds)
	assert.Empty(t, got.AgentID)
}

func TestStatus_EarlyCallbackIsParkedUntilAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.post("/webhooks/twilio/status", "good", status("CA9", "completed", "3"))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, ResultParked, f.results()["twilio:CA9:completed:3"])
	assert.Equal(t, 1, f.store.ParkedCount("CA9"))

	c := f.outboundCall(t, "CA9")
	assert.Equal(t, calls.StatusFailed, c.Status)
	assert.Equal(t, 0, f.store.ParkedCount("CA9"))

	got, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusFailed, got.Status)
	assert.Equal(t, "CA9", got.ProviderCallID)
	assert.Equal(t, 1, f.changes.Len())

	// The provider's redelivery is a duplicate, not a second transition.
	w = f.post("/webhooks/twilio/status", "good", status("CA9", "completed", "3"))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.changes.Len())
}

func TestStatus_InlineTransientFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")
	f.repo.failures.Store(1)

	w := f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ResultFailed, f.results()["twilio:CA1:ringing:1"])

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDialing, got.Status)

	// The key was released, so the redelivery is processed.
	w = f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusNoContent, w.Code)
	got, err = f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusRinging, got.Status)
	assert.Equal(t, ResultProcessed, f.results()["twilio:CA1:ringing:1"])
}

func TestStatus_DispatcherRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.withDispatcher(t)
	c := f.outboundCall(t, "CA1")
	f.repo.failures.Store(2)

	w := f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool { return f.changes.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusRinging, got.Status)
	require.Eventually(t, func() bool {
		return f.results()["twilio:CA1:ringing:1"] == ResultProcessed
	}, time.Second, 5*time.Millisecond)
}

func TestStatus_DispatcherGivesUpAfterBoundedRetries(t *testing.T) {
	f := newFixture(t)
	f.withDispatcher(t)
	f.handler.RetryAttempts = 2
	c := f.outboundCall(t, "CA1")
	f.repo.failures.Store(2)

	w := f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool {
		return f.results()["twilio:CA1:ringing:1"] == ResultFailed
	}, 2*time.Second, 5*time.Millisecond)

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDialing, got.Status)

	w = f.post("/webhooks/twilio/status", "good", status("CA1", "ringing", "1"))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool { return f.changes.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRecording_StoresRecordingIDAfterCallEnded(t *testing.T) {
	f := newFixture(t)
	c := f.outboundCall(t, "CA1")
	_, err := f.store.Apply(context.Background(), c.ID, calls.Event{Type: calls.EventNoAnswer})
	require.NoError(t, err)

	form := url.Values{"CallSid": {"CA1"}, "RecordingSid": {"RE1"}, "RecordingStatus": {"completed"}}
	w := f.post("/webhooks/twilio/recording", "good", form)
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "RE1", got.RecordingID)
	assert.Equal(t, calls.StatusNoAnswer, got.Status)

	form.Set("RecordingStatus", "in-progress")
	form.Set("RecordingSid", "RE2")
	w = f.post("/webhooks/twilio/recording", "good", form)
	require.Equal(t, http.StatusNoContent, w.Code)
	got, err = f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "RE1", got.RecordingID)
}

func TestVoice_InboundRendersTwiML(t *testing.T) {
	f := newFixture(t)
	f.engine.result = telephony.InboundCallResult{CallID: "c1", Action: telephony.InboundCallActionEnqueue, QueueID: "support", Message: "Please hold"}

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550000001"}, "To": {"+15550001111"}, "Direction": {"inbound"}}
	w := f.post("/webhooks/twilio/voice", "good", form)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "<Say>Please hold</Say>")
	assert.Contains(t, w.Body.String(), "<Enqueue>support</Enqueue>")

	require.Len(t, f.engine.inbound, 1)
	assert.Equal(t, "CA1", f.engine.inbound[0].ProviderCallID)
	assert.Equal(t, "+15550001111", f.engine.inbound[0].To)
	assert.Empty(t, f.engine.answered)
}

func TestVoice_OutboundAnswerIsRouted(t *testing.T) {
	f := newFixture(t)
	f.engine.result = telephony.InboundCallResult{Action: telephony.InboundCallActionConnect, ConnectTo: "client:a1"}

	form := url.Values{"CallSid": {"CA7"}, "From": {"+15550000001"}, "To": {"+15550000002"}, "Direction": {"outbound-api"}}
	w := f.post("/webhooks/twilio/voice", "good", form)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Client>a1</Client>")
	assert.Equal(t, []string{"CA7"}, f.engine.answered)

	w = f.post("/webhooks/twilio/voice", "bad", form)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, f.engine.answered, 1)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "twilio:CA1:completed:4", Key(KindStatus, map[string]string{"CallSid": "CA1", "CallStatus": "completed", "SequenceNumber": "4"}))

	a := Key(KindStatus, map[string]string{"CallSid": "CA1", "CallStatus": "busy", "Timestamp": "x"})
	b := Key(KindStatus, map[string]string{"Timestamp": "x", "CallStatus": "busy", "CallSid": "CA1"})
	c := Key(KindStatus, map[string]string{"CallSid": "CA1", "CallStatus": "failed", "Timestamp": "x"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "twilio:status:"))
}

func TestMemoryKeyStore_Expires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryKeyStore(time.Minute)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.Claim(ctx, "k")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = s.Claim(ctx, "k")
	assert.True(t, ok)

	require.NoError(t, s.Release(ctx, "k"))
	ok, _ = s.Claim(ctx, "k")
	assert.True(t, ok)
}

func TestStatusEvent(t *testing.T) {
	cases := map[string]calls.EventType{
		"ringing":     calls.EventRinging,
		"in-progress": calls.EventAnswered,
		"completed":   calls.EventCompleted,
		"busy":        calls.EventBusy,
		"no-answer":   calls.EventNoAnswer,
		"failed":      calls.EventProviderFailed,
		"canceled":    calls.EventCanceled,
	}
	for in, want := range cases {
		ev, ok := StatusEvent(telephony.TwilioStatusForm{CallStatus: in})
		require.True(t, ok, in)
		assert.Equal(t, want, ev.Type, in)
	}
	for _, in := range []string{"queued", "initiated", "bogus"} {
		_, ok := StatusEvent(telephony.TwilioStatusForm{CallStatus: in})
		assert.False(t, ok, in)
	}
}

func TestDispatcher_RunsJobsAndRejectsOverflow(t *testing.T) {
	d := NewDispatcher(1, 1, nil)
	done := make(chan struct{})
	require.NoError(t, d.Submit(func(context.Context) { close(done) }))
	assert.ErrorIs(t, d.Submit(func(context.Context) {}), ErrBusy)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	require.NoError(t, <-errc)
}
