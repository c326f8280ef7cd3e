package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"callcenter/internal/calls"
	"callcenter/internal/locks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallObserver_PublishesEveryTransition(t *testing.T) {
	rec := NewRecorder()
	store := calls.NewStore(calls.NewMemoryRepo(), locks.NewLocal(), nil)
	store.Subscribe(NewCallObserver(rec, "cc/", nil))
	ctx := context.Background()

	c, err := store.Create(ctx, calls.Call{Direction: calls.DirectionInbound, WorkspaceID: "w", ProviderCallID: "CA1"})
	require.NoError(t, err)
	_, err = store.Apply(ctx, c.ID, calls.Event{Type: calls.EventQueue, Payload: calls.Payload{QueueID: "support"}})
	require.NoError(t, err)
	_, err = store.Apply(ctx, c.ID, calls.Event{Type: calls.EventCanceled})
	require.NoError(t, err)

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cc/calls/"+c.ID+"/state", msgs[0].Topic)

	var last StateChange
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &last))
	assert.Equal(t, calls.StatusQueued, last.From)
	assert.Equal(t, calls.StatusFailed, last.To)
	assert.Equal(t, calls.ReasonAbandoned, last.Reason)
	assert.Equal(t, "support", last.QueueID)
	assert.Equal(t, "w", last.WorkspaceID)
}

func TestCallObserver_PublishFailureDoesNotBlock(t *testing.T) {
	rec := NewRecorder()
	rec.Fail(errors.New("broker down"))
	store := calls.NewStore(calls.NewMemoryRepo(), locks.NewLocal(), nil)
	store.Subscribe(NewCallObserver(rec, "", nil))
	ctx := context.Background()

	c, err := store.Create(ctx, calls.Call{Direction: calls.DirectionOutbound})
	require.NoError(t, err)
	got, err := store.Apply(ctx, c.ID, calls.Event{Type: calls.EventRinging})
	require.NoError(t, err)
	assert.Equal(t, calls.StatusRinging, got.Status)
	assert.Empty(t, rec.Messages(), "failed publishes are not recorded")

	rec.Fail(nil)
	assert.NoError(t, rec.Publish(ctx, "callcenter/calls/x/state", []byte("{}")))
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), "t", nil))
	assert.NoError(t, p.Close())
}
