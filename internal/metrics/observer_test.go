package metrics

import (
	"context"
	"testing"

	"callcenter/internal/calls"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCallObserver_CountsQueueAbandonment(t *testing.T) {
	c := QueueAbandoned.WithLabelValues("support", calls.ReasonQueueTimeout)
	before := testutil.ToFloat64(c)

	CallObserver{}.CallChanged(context.Background(), calls.Change{
		Prev:  calls.Call{Status: calls.StatusQueued, QueueID: "support"},
		Next:  calls.Call{Status: calls.StatusFailed, QueueID: "support", FailureReason: calls.ReasonQueueTimeout},
		Event: calls.Event{Type: calls.EventQueueTimeout},
	})

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestCallObserver_IgnoresAnsweredQueueExit(t *testing.T) {
	c := QueueAbandoned.WithLabelValues("sales", calls.ReasonQueueTimeout)
	before := testutil.ToFloat64(c)

	CallObserver{}.CallChanged(context.Background(), calls.Change{
		Prev:  calls.Call{Status: calls.StatusQueued, QueueID: "sales"},
		Next:  calls.Call{Status: calls.StatusAssigned, QueueID: "sales", AgentID: "a1"},
		Event: calls.Event{Type: calls.EventAssign},
	})

	assert.Equal(t, before, testutil.ToFloat64(c))
}
