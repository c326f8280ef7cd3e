package calls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_EveryMoveFollowsGraph(t *testing.T) {
	for _, from := range AllStatuses {
		for _, ev := range AllEventTypes {
			r := decide(from, ev)
			if r.Outcome != Move {
				continue
			}
			cur := from
			for _, hop := range append(append([]Status{}, r.Via...), r.To) {
				if cur == hop && cur.Terminal() && ev == EventRecordingReady {
					continue
				}
				assert.Truef(t, CanReach(cur, hop), "%s --%s--> %s leaves the graph", cur, ev, hop)
				cur = hop
			}
		}
	}
}

func TestTable_TerminalStatesAreImmutable(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusNoAnswer, StatusFailed} {
		for _, ev := range AllEventTypes {
			r := decide(from, ev)
			if ev == EventRecordingReady {
				assert.Equal(t, from, r.To)
				continue
			}
			if ev.Source() == SourceProvider {
				assert.Equalf(t, Ignore, r.Outcome, "%s on %s", ev, from)
			} else {
				assert.Equalf(t, Reject, r.Outcome, "%s on %s", ev, from)
			}
		}
	}
}

func TestTransition_ActiveToQueuedIsRejected(t *testing.T) {
	c := Call{ID: "c1", Status: StatusActive, AgentID: "a1"}
	out, changed, err := transition(c.clone(), Event{Type: EventQueue, Payload: Payload{QueueID: "q"}}, time.Now())
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.False(t, changed)
	assert.Equal(t, StatusActive, out.Status)
}

func TestTransition_StaleRingingAfterCompletedIsNoop(t *testing.T) {
	c := Call{ID: "c1", Status: StatusCompleted}
	_, changed, err := transition(c, Event{Type: EventRinging}, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTransition_HoldAccounting(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	c := Call{ID: "c1", Status: StatusActive, AgentID: "a1", StartTime: t0}

	c, _, err := transition(c, Event{Type: EventHold, At: t0.Add(10 * time.Second)}, t0)
	require.NoError(t, err)
	require.NotNil(t, c.HoldStartTime)
	assert.Equal(t, StatusOnHold, c.Status)

	c, _, err = transition(c, Event{Type: EventUnhold, At: t0.Add(40 * time.Second)}, t0)
	require.NoError(t, err)
	assert.Nil(t, c.HoldStartTime)
	assert.Equal(t, 30, c.TotalHoldSeconds)

	c, _, err = transition(c, Event{Type: EventHold, At: t0.Add(50 * time.Second)}, t0)
	require.NoError(t, err)
	c, _, err = transition(c, Event{Type: EventCompleted, At: t0.Add(60 * time.Second)}, t0)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, c.Status)
	assert.Nil(t, c.HoldStartTime)
	assert.Equal(t, 40, c.TotalHoldSeconds)
	require.NotNil(t, c.EndTime)
	assert.Equal(t, 60, c.DurationSeconds)
	assert.Empty(t, c.AgentID)
}

func TestTransition_AssignRequiresAgent(t *testing.T) {
	c := Call{ID: "c1", Status: StatusRinging}
	_, _, err := transition(c, Event{Type: EventAssign}, time.Now())
	require.Error(t, err)
	assert.True(t, IsStateError(err))
}

func TestTransition_NoAnswerWhileDialingWalksRinging(t *testing.T) {
	c := Call{ID: "c1", Status: StatusDialing, StartTime: time.Now()}
	out, changed, err := transition(c, Event{Type: EventNoAnswer}, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusNoAnswer, out.Status)
	assert.NotNil(t, out.EndTime)
}

func TestTransition_FailureReasonFromPayloadWins(t *testing.T) {
	c := Call{ID: "c1", Status: StatusDialing}
	out, _, err := transition(c, Event{Type: EventFail, Payload: Payload{Reason: ReasonProviderTimeout}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, ReasonProviderTimeout, out.FailureReason)
}

func TestTransition_AgentInvariantHoldsAcrossTable(t *testing.T) {
	for _, from := range AllStatuses {
		for _, ev := range AllEventTypes {
			c := Call{ID: "c", Status: from}
			if from.HoldsAgent() {
				c.AgentID = "a1"
			}
			if from == StatusOnHold {
				held := time.Now().Add(-time.Minute)
				c.HoldStartTime = &held
			}
			out, changed, err := transition(c, Event{Type: ev, Payload: Payload{AgentID: "a2", QueueID: "q"}}, time.Now())
			if err != nil || !changed {
				continue
			}
			assert.Equalf(t, out.Status.HoldsAgent(), out.AgentID != "", "%s --%s--> %s agent=%q", from, ev, out.Status, out.AgentID)
			assert.Equalf(t, out.Status == StatusOnHold, out.HoldStartTime != nil, "%s --%s--> %s hold", from, ev, out.Status)
		}
	}
}
