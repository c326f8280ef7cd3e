package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"callcenter/internal/locks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(NewMemoryRepo(), locks.NewLocal(), nil)
	s.SetClock(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	return s
}

func TestStore_CreateDefaultsAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.Create(ctx, Call{Direction: DirectionInbound, From: "+15551230000", To: "+15557650000", ProviderCallID: "CA1"})
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, c.Status)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, int64(1), c.Version)

	_, err = s.Create(ctx, Call{Direction: DirectionInbound, ProviderCallID: "CA1"})
	require.ErrorIs(t, err, ErrDuplicateProviderCall)

	got, err := s.GetByProviderCallID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestStore_RejectedTransitionLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, err := s.Create(ctx, Call{Direction: DirectionInbound})
	require.NoError(t, err)

	_, err = s.Apply(ctx, c.ID, Event{Type: EventHold})
	require.Error(t, err)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, got.Status)
	assert.Equal(t, c.Version, got.Version)
}

func TestStore_ObserversSeeCommittedChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Status
	s.Subscribe(ObserverFunc(func(ctx context.Context, ch Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ch.Next.Status)
	}))

	c, err := s.Create(ctx, Call{Direction: DirectionInbound})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventAssign, Payload: Payload{AgentID: "a1"}})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventRinging})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventConnect})
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusAssigned, StatusActive}, seen)
}

func TestStore_ConcurrentEventsAreSerialized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, err := s.Create(ctx, Call{Direction: DirectionInbound})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventAssign, Payload: Payload{AgentID: "a1"}})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventConnect})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.Apply(ctx, c.ID, Event{Type: EventMute})
			} else {
				_, _ = s.Apply(ctx, c.ID, Event{Type: EventUnmute})
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	// 2 setup transitions + 20 field updates, each bumping the version exactly once.
	assert.Equal(t, int64(23), got.Version)
	assert.Equal(t, StatusActive, got.Status)
}

func TestStore_HangupBeforeProviderIDIsQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, err := s.Create(ctx, Call{Direction: DirectionOutbound})
	require.NoError(t, err)

	_, bound, err := s.RequestHangup(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, bound)

	_, pending, err := s.AttachProviderCall(ctx, c.ID, "CA9")
	require.NoError(t, err)
	assert.True(t, pending)

	_, bound, err = s.RequestHangup(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, bound)
}

func TestStore_DoRunsSeveralTransitionsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, err := s.Create(ctx, Call{Direction: DirectionInbound})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventAssign, Payload: Payload{AgentID: "a1"}})
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, Event{Type: EventConnect})
	require.NoError(t, err)

	out, err := s.Do(ctx, c.ID, func(sess *Session) error {
		if _, err := sess.Apply(Event{Type: EventConferenceStart}); err != nil {
			return err
		}
		_, err := sess.Apply(Event{Type: EventTransferComplete, Payload: Payload{AgentID: "a2"}})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, out.Status)
	assert.Equal(t, "a2", out.AgentID)
	assert.Equal(t, "a1", out.TransferredFrom)
}

func TestStore_ParkedEventsReplayOnAttach(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, err := s.Create(ctx, Call{Direction: DirectionOutbound})
	require.NoError(t, err)

	for _, ev := range []Event{{Type: EventRinging}, {Type: EventHold}, {Type: EventNoAnswer}} {
		_, parked, err := s.Park(ctx, "CA9", ev)
		require.NoError(t, err)
		assert.True(t, parked)
	}
	assert.Equal(t, 3, s.ParkedCount("CA9"))

	_, bound, err := s.RequestHangup(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, bound)

	out, pending, err := s.AttachProviderCall(ctx, c.ID, "CA9")
	require.NoError(t, err)
	// The rejected hold is dropped; the call ended, so no hangup is owed.
	assert.Equal(t, StatusNoAnswer, out.Status)
	assert.False(t, pending)
	assert.Equal(t, 0, s.ParkedCount("CA9"))

	got, parked, err := s.Park(ctx, "CA9", Event{Type: EventRinging})
	require.NoError(t, err)
	assert.False(t, parked)
	assert.Equal(t, c.ID, got.ID)
}
