package metrics

import (
	"context"

	"callcenter/internal/calls"
)

// CallObserver counts committed transitions and queue abandonment.
type CallObserver struct{}

func (CallObserver) CallChanged(_ context.Context, ch calls.Change) {
	CallTransitions.WithLabelValues(string(ch.Prev.Status), string(ch.Next.Status), string(ch.Event.Type)).Inc()

	if ch.Prev.Status == calls.StatusQueued && ch.Next.Status == calls.StatusFailed {
		QueueAbandoned.WithLabelValues(ch.Prev.QueueID, ch.Next.FailureReason).Inc()
	}
}
