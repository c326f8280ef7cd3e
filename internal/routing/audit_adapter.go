package routing

import (
	"context"

	"callcenter/internal/audit"
)

// AbandonLogger records calls the router gave up on: queue timeouts and callers who hung
// up while waiting.
type AbandonLogger interface {
	LogAbandoned(ctx context.Context, workspaceID, callID, queueID, reason string) error
}

// AuditAdapter writes abandonment to the audit trail. Sweeps run without a request, so
// the actor is usually empty and recorded as the system.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogAbandoned(ctx context.Context, workspaceID, callID, queueID, reason string) error {
	if a.Audit == nil {
		return nil
	}
	actor := audit.ActorFrom(ctx)
	if actor.Role == "" {
		actor.Role = "system"
	}
	return a.Audit.LogQueueAbandoned(ctx, workspaceID, actor, callID, queueID, reason)
}
