package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListByCall returns a call's events in creation order, scoped to the workspace.
	ListByCall(ctx context.Context, workspaceID, callID string) ([]Event, error)
}

// Actor identifies who triggered an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// Service records internal audit information.
//
// Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if !e.Type.Known() {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogForceRelease records a supervisor ending an agent's assignment.
func (s *Service) LogForceRelease(ctx context.Context, workspaceID string, actor Actor, agentID, callID, newStatus string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeForceRelease,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		AgentID:     agentID,
		CallID:      callID,
		Message:     "agent force-released to " + newStatus,
	})
}

// LogStateRejected records a call-control request refused by the call state machine.
func (s *Service) LogStateRejected(ctx context.Context, workspaceID string, actor Actor, callID, detail string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeStateRejected,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     detail,
	})
}

// LogRecordingBlocked records a recording that did not start for lack of consent.
func (s *Service) LogRecordingBlocked(ctx context.Context, workspaceID string, actor Actor, callID string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeRecordingBlocked,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     "recording consent missing",
	})
}

// LogTransfer records a completed transfer between agents or to an external number.
func (s *Service) LogTransfer(ctx context.Context, workspaceID string, actor Actor, callID, fromAgent, target, kind string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeTransfer,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		AgentID:     fromAgent,
		CallID:      callID,
		Message:     kind + " transfer to " + target,
	})
}

// LogQueueAbandoned records a queued caller lost before reaching an agent.
func (s *Service) LogQueueAbandoned(ctx context.Context, workspaceID string, actor Actor, callID, queueID, reason string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeQueueAbandoned,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     "queue " + queueID + ": " + reason,
	})
}

// CallTrail returns the audit events of one call, oldest first.
func (s *Service) CallTrail(ctx context.Context, workspaceID, callID string) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if workspaceID == "" || callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, workspaceID, callID)
}
