package dialer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"callcenter/internal/calls"
	"callcenter/internal/locks"
	"callcenter/internal/metrics"
	"callcenter/internal/telephony"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlacer struct {
	mu      sync.Mutex
	n       int
	placed  []string
	hangups []string
	fail    map[string]error
	onPlace func(ctx context.Context)
}

func (p *fakePlacer) PlaceCall(ctx context.Context, to, from, callbackURL string) (string, error) {
	if p.onPlace != nil {
		p.onPlace(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[to]; ok {
		return "", err
	}
	p.n++
	p.placed = append(p.placed, to)
	return fmt.Sprintf("CA%04d", p.n), nil
}

func (p *fakePlacer) Hangup(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, providerCallID)
	return nil
}

func (p *fakePlacer) Placed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.placed...)
}

type harness struct {
	mu     sync.Mutex
	now    time.Time
	store  *calls.Store
	repo   *MemoryRepo
	placer *fakePlacer
	dialer *Dialer
}

func (h *harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) Advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T, camp Campaign) *harness {
	t.Helper()
	h := &harness{now: time.Unix(1700000000, 0).UTC(), placer: &fakePlacer{fail: map[string]error{}}}
	locker := locks.NewLocal()
	h.store = calls.NewStore(calls.NewMemoryRepo(), locker, nil)
	h.store.SetClock(h.Now)
	h.repo = NewMemoryRepo()
	h.dialer = New(h.store, h.repo, h.placer, locker, Config{Campaigns: []Campaign{camp}, StatusCallbackURL: "https://cc.example.com/status"}, nil)
	h.dialer.SetClock(h.Now)
	h.dialer.Attach()
	return h
}

func (h *harness) addContacts(t *testing.T, campaignID string, n int) []Contact {
	t.Helper()
	out := make([]Contact, 0, n)
	for i := 0; i < n; i++ {
		c, err := h.dialer.AddContact(context.Background(), Contact{CampaignID: campaignID, Phone: fmt.Sprintf("+1555000%04d", i)})
		require.NoError(t, err)
		out = append(out, c)
		h.Advance(time.Millisecond)
	}
	return out
}

func (h *harness) contact(t *testing.T, id string) Contact {
	t.Helper()
	c, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func campaign(id string) Campaign {
	return Campaign{
		ID:                 id,
		WorkspaceID:        "w",
		CallerID:           "+15559990000",
		QueueID:            "support",
		MaxConcurrentCalls: 3,
		MaxAttempts:        3,
		RetryDelay:         10 * time.Minute,
		Active:             true,
	}
}

func TestDialer_ConcurrentTicksNeverExceedCapacity(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	h.addContacts(t, "camp", 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := h.dialer.Tick(context.Background(), "camp")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	live, err := h.store.CountLiveByCampaign(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 3, live)
	assert.Len(t, h.placer.Placed(), 3)

	contacts, err := h.repo.ListByCampaign(context.Background(), "camp")
	require.NoError(t, err)
	inProgress := 0
	for _, c := range contacts {
		if c.Status == ContactInProgress {
			inProgress++
			assert.Equal(t, 1, c.Attempts)
			assert.NotEmpty(t, c.LastCallID)
		}
	}
	assert.Equal(t, 3, inProgress)
}

func TestDialer_EndedCallFreesCapacityAndSchedulesRetry(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	contacts := h.addContacts(t, "camp", 5)
	ctx := context.Background()

	res, err := h.dialer.Tick(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, TickResult{Capacity: 3, Eligible: 5, Placed: 3}, res)

	first := h.contact(t, contacts[0].ID)
	_, err = h.store.Apply(ctx, first.LastCallID, calls.Event{Type: calls.EventNoAnswer})
	require.NoError(t, err)

	settled := h.contact(t, contacts[0].ID)
	assert.Equal(t, ContactPending, settled.Status)
	require.NotNil(t, settled.NextAttemptAt)
	assert.Equal(t, h.Now().Add(10*time.Minute), *settled.NextAttemptAt)

	res, err = h.dialer.Tick(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Placed)
	assert.Equal(t, ContactInProgress, h.contact(t, contacts[3].ID).Status)
	assert.Equal(t, ContactPending, h.contact(t, contacts[0].ID).Status)
}

func TestDialer_CompletedCallCompletesContact(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	contacts := h.addContacts(t, "camp", 1)
	ctx := context.Background()

	_, err := h.dialer.Tick(ctx, "camp")
	require.NoError(t, err)
	callID := h.contact(t, contacts[0].ID).LastCallID

	_, err = h.store.Do(ctx, callID, func(sess *calls.Session) error {
		for _, ev := range []calls.Event{
			{Type: calls.EventRinging},
			{Type: calls.EventAssign, Payload: calls.Payload{AgentID: "a1"}},
			{Type: calls.EventConnect},
			{Type: calls.EventCompleted},
		} {
			if _, err := sess.Apply(ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ContactCompleted, h.contact(t, contacts[0].ID).Status)
}

func TestDialer_ProviderFailuresExhaustContact(t *testing.T) {
	camp := campaign("exh")
	camp.MaxAttempts = 2
	camp.RetryDelay = time.Minute
	h := newHarness(t, camp)
	contacts := h.addContacts(t, "exh", 1)
	h.placer.fail[contacts[0].Phone] = &telephony.ProviderError{Kind: telephony.KindTimeout, Op: "create_call"}
	ctx := context.Background()

	_, err := h.dialer.Tick(ctx, "exh")
	require.NoError(t, err)
	c := h.contact(t, contacts[0].ID)
	assert.Equal(t, ContactPending, c.Status)
	assert.Equal(t, 1, c.Attempts)

	failed, err := h.store.Get(ctx, c.LastCallID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusFailed, failed.Status)
	assert.Equal(t, calls.ReasonProviderTimeout, failed.FailureReason)

	// Nothing is due before the retry delay, which is not a stall.
	stalls := testutil.ToFloat64(metrics.DialerStalls.WithLabelValues("exh"))
	res, err := h.dialer.Tick(ctx, "exh")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Placed)
	assert.Equal(t, stalls, testutil.ToFloat64(metrics.DialerStalls.WithLabelValues("exh")))

	h.Advance(time.Minute)
	_, err = h.dialer.Tick(ctx, "exh")
	require.NoError(t, err)
	c = h.contact(t, contacts[0].ID)
	assert.Equal(t, ContactExhausted, c.Status)
	assert.Equal(t, 2, c.Attempts)
}

func TestDialer_CooldownOutlastsRetryDelay(t *testing.T) {
	camp := campaign("cool")
	camp.RetryDelay = time.Minute
	camp.Cooldown = 5 * time.Minute
	h := newHarness(t, camp)
	contacts := h.addContacts(t, "cool", 1)
	h.placer.fail[contacts[0].Phone] = &telephony.ProviderError{Kind: telephony.KindTimeout, Op: "create_call"}
	ctx := context.Background()

	_, err := h.dialer.Tick(ctx, "cool")
	require.NoError(t, err)
	c := h.contact(t, contacts[0].ID)
	require.Equal(t, ContactPending, c.Status)
	require.Equal(t, 1, c.Attempts)
	delete(h.placer.fail, contacts[0].Phone)

	// Due by the retry delay but still inside the cooldown: held back and counted as a stall.
	h.Advance(2 * time.Minute)
	stalls := testutil.ToFloat64(metrics.DialerStalls.WithLabelValues("cool"))
	res, err := h.dialer.Tick(ctx, "cool")
	require.NoError(t, err)
	assert.Equal(t, TickResult{Capacity: 3}, res)
	assert.Empty(t, h.placer.Placed())
	assert.Equal(t, stalls+1, testutil.ToFloat64(metrics.DialerStalls.WithLabelValues("cool")))

	h.Advance(3 * time.Minute)
	res, err = h.dialer.Tick(ctx, "cool")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Placed)
	assert.Equal(t, []string{contacts[0].Phone}, h.placer.Placed())
	c = h.contact(t, contacts[0].ID)
	assert.Equal(t, ContactInProgress, c.Status)
	assert.Equal(t, 2, c.Attempts)
}

func TestDialer_InvalidNumberExhaustsImmediately(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	contacts := h.addContacts(t, "camp", 1)
	h.placer.fail[contacts[0].Phone] = &telephony.ProviderError{Kind: telephony.KindInvalidNumber, Op: "create_call"}

	_, err := h.dialer.Tick(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, ContactExhausted, h.contact(t, contacts[0].ID).Status)
}

func TestDialer_HangupBeforePlacementReturns(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	h.addContacts(t, "camp", 1)
	h.placer.onPlace = func(ctx context.Context) {
		dialing, err := h.store.ListByStatus(ctx, calls.StatusDialing)
		require.NoError(t, err)
		for _, c := range dialing {
			_, bound, err := h.store.RequestHangup(ctx, c.ID)
			require.NoError(t, err)
			require.False(t, bound)
		}
	}

	_, err := h.dialer.Tick(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, []string{"CA0001"}, h.placer.hangups)
}

func TestDialer_RespectsContactDialingWindow(t *testing.T) {
	camp := campaign("camp")
	w, err := ParseWindow("09:00", "18:00")
	require.NoError(t, err)
	camp.Window = w
	h := newHarness(t, camp)
	h.now = time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC) // 03:00 in New York

	c, err := h.dialer.AddContact(context.Background(), Contact{CampaignID: "camp", Phone: "+1 (555) 000-1234", Timezone: "America/New_York"})
	require.NoError(t, err)
	assert.Equal(t, "+15550001234", c.Phone)

	res, err := h.dialer.Tick(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Eligible)

	h.Advance(7 * time.Hour) // 10:00 in New York
	res, err = h.dialer.Tick(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Placed)
}

func TestDialer_PausedCampaignDoesNotDial(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	h.addContacts(t, "camp", 2)
	require.NoError(t, h.dialer.SetActive("camp", false))

	h.dialer.TickAll(context.Background())
	assert.Empty(t, h.placer.Placed())

	_, err := h.dialer.Tick(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownCampaign)
}

func TestDialer_AddContactValidates(t *testing.T) {
	h := newHarness(t, campaign("camp"))
	_, err := h.dialer.AddContact(context.Background(), Contact{CampaignID: "camp", Phone: "12"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.dialer.AddContact(context.Background(), Contact{CampaignID: "camp", Phone: "+15550001234", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.dialer.AddContact(context.Background(), Contact{CampaignID: "other", Phone: "+15550001234"})
	assert.ErrorIs(t, err, ErrUnknownCampaign)
}

func TestWindow_Contains(t *testing.T) {
	day, err := ParseWindow("09:00", "17:30")
	require.NoError(t, err)
	night, err := ParseWindow("22:00", "06:00")
	require.NoError(t, err)
	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	assert.True(t, day.Contains(at(9, 0)))
	assert.True(t, day.Contains(at(17, 29)))
	assert.False(t, day.Contains(at(17, 30)))
	assert.False(t, day.Contains(at(8, 59)))

	assert.True(t, night.Contains(at(23, 0)))
	assert.True(t, night.Contains(at(5, 59)))
	assert.False(t, night.Contains(at(12, 0)))

	assert.True(t, Window{}.Contains(at(3, 0)))
	_, err = ParseWindow("9am", "5pm")
	assert.Error(t, err)
}

func TestFailureReasonMatchesCallReasons(t *testing.T) {
	assert.Equal(t, calls.ReasonProviderTimeout, telephony.FailureReason(&telephony.ProviderError{Kind: telephony.KindTimeout}))
	assert.Equal(t, calls.ReasonInvalidNumber, telephony.FailureReason(&telephony.ProviderError{Kind: telephony.KindInvalidNumber}))
	assert.Equal(t, calls.ReasonProviderFailed, telephony.FailureReason(fmt.Errorf("boom")))
}
