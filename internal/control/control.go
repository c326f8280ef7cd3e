package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"callcenter/internal/agents"
	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/metrics"
	"callcenter/internal/telephony"

	"github.com/google/uuid"
)

// Provider is the part of the telephony adapter call control drives.
type Provider interface {
	PlaceCall(ctx context.Context, to, from, callbackURL string) (string, error)
	Hangup(ctx context.Context, providerCallID string) error
	Transfer(ctx context.Context, providerCallID, target string) error
	StartRecording(ctx context.Context, providerCallID, callbackURL string) (string, error)
	StopRecording(ctx context.Context, providerCallID string) (string, error)
}

type Config struct {
	// CallerID is used for agent calls that name no From number.
	CallerID             string
	StatusCallbackURL    string
	RecordingCallbackURL string
}

// Service is the call-control surface used by agents and supervisors.
//
// Rules:
// - Agent locks are taken before call locks (Coordinator.Reserve/Handover wrap Store.Do).
// - Every operation returns the call as stored after the operation.
type Service struct {
	calls    *calls.Store
	agents   *agents.Coordinator
	provider Provider
	consent  ConsentChecker
	audit    *audit.Service
	cfg      Config
	log      *slog.Logger
}

func NewService(store *calls.Store, coord *agents.Coordinator, provider Provider, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{calls: store, agents: coord, provider: provider, cfg: cfg, log: log}
}

// SetConsentChecker enables the recording consent check. Without one, recording is allowed.
func (s *Service) SetConsentChecker(c ConsentChecker) { s.consent = c }

func (s *Service) SetAudit(a *audit.Service) { s.audit = a }

func (s *Service) Get(ctx context.Context, callID string) (calls.Call, error) {
	return s.calls.Get(ctx, callID)
}

type OutboundRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	To      string `json:"to" binding:"required"`
	From    string `json:"from"`
}

// PlaceOutbound dials a number on behalf of an agent. The agent is reserved before the
// provider is asked; the router connects the agent once the callee answers.
func (s *Service) PlaceOutbound(ctx context.Context, req OutboundRequest) (calls.Call, error) {
	to, err := telephony.NormalizeE164(req.To)
	if err != nil {
		return calls.Call{}, err
	}
	from := req.From
	if from == "" {
		from = s.cfg.CallerID
	}
	if from, err = telephony.NormalizeE164(from); err != nil {
		return calls.Call{}, err
	}

	callID := uuid.NewString()
	var created calls.Call
	_, err = s.agents.Reserve(ctx, req.AgentID, callID, func(ctx context.Context, a agents.Agent) error {
		c, err := s.calls.Create(ctx, calls.Call{
			ID:          callID,
			WorkspaceID: a.WorkspaceID,
			Direction:   calls.DirectionOutbound,
			From:        from,
			To:          to,
			Metadata:    map[string]string{"placed_by": a.ID},
		})
		created = c
		return err
	})
	if err != nil {
		return calls.Call{}, err
	}

	pid, err := s.provider.PlaceCall(ctx, to, from, s.cfg.StatusCallbackURL)
	if err != nil {
		reason := telephony.FailureReason(err)
		s.log.Warn("agent call placement failed", "call_id", callID, "agent_id", req.AgentID, "reason", reason, "err", err)
		failed, ferr := s.calls.Apply(ctx, callID, calls.Event{Type: calls.EventFail, Payload: calls.Payload{Reason: reason}})
		if ferr != nil {
			s.log.Error("record placement failure failed", "call_id", callID, "err", ferr)
			return created, err
		}
		if _, _, rerr := s.agents.ReleaseCall(ctx, callID); rerr != nil {
			s.log.Error("release agent after failed placement", "call_id", callID, "err", rerr)
		}
		return failed, err
	}

	c, hangup, err := s.calls.AttachProviderCall(ctx, callID, pid)
	if err != nil {
		return created, err
	}
	if hangup {
		if err := s.provider.Hangup(ctx, pid); err != nil {
			s.log.Warn("deferred hangup failed", "call_id", callID, "provider_call_id", pid, "err", err)
		}
	}
	s.log.Info("agent call placed", "call_id", callID, "agent_id", req.AgentID, "provider_call_id", pid)
	return c, nil
}

// Hangup ends a call. A call still waiting for its provider id is marked and hung up as
// soon as placement returns. Hanging up an ended call returns it unchanged.
func (s *Service) Hangup(ctx context.Context, callID string) (calls.Call, error) {
	c, bound, err := s.calls.RequestHangup(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if c.Status.Terminal() || !bound {
		return c, nil
	}
	if err := s.provider.Hangup(ctx, c.ProviderCallID); err != nil {
		return c, err
	}
	return s.calls.Apply(ctx, callID, calls.Event{Type: calls.EventHangup})
}

// Accept records that the agent's leg is connected: ASSIGNED → ACTIVE.
func (s *Service) Accept(ctx context.Context, callID, agentID string) (calls.Call, error) {
	return s.calls.Do(ctx, callID, func(sess *calls.Session) error {
		if agentID != "" && sess.Call().AgentID != agentID {
			return ErrNotAssigned
		}
		_, err := sess.Apply(calls.Event{Type: calls.EventConnect})
		return err
	})
}

func (s *Service) Hold(ctx context.Context, callID string) (calls.Call, error) {
	return s.apply(ctx, callID, calls.EventHold)
}

func (s *Service) Unhold(ctx context.Context, callID string) (calls.Call, error) {
	return s.apply(ctx, callID, calls.EventUnhold)
}

func (s *Service) Mute(ctx context.Context, callID string) (calls.Call, error) {
	return s.apply(ctx, callID, calls.EventMute)
}

func (s *Service) Unmute(ctx context.Context, callID string) (calls.Call, error) {
	return s.apply(ctx, callID, calls.EventUnmute)
}

func (s *Service) apply(ctx context.Context, callID string, t calls.EventType) (calls.Call, error) {
	c, err := s.calls.Apply(ctx, callID, calls.Event{Type: t})
	s.auditRejected(ctx, c, err)
	return c, err
}

// SetConsent records the caller's answer to the recording consent prompt.
func (s *Service) SetConsent(ctx context.Context, callID string, granted bool) (calls.Call, error) {
	v := ConsentDenied
	if granted {
		v = ConsentGranted
	}
	return s.calls.SetMetadata(ctx, callID, map[string]string{calls.MetaConsent: v})
}

// StartRecording starts recording unless consent is required and missing, in which case
// ErrConsentRequired is returned and the call is left as it was.
func (s *Service) StartRecording(ctx context.Context, callID string) (calls.Call, error) {
	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if err := precheck(c, calls.EventRecordingStarted); err != nil {
		s.auditRejected(ctx, c, err)
		return c, err
	}
	if c.Recording {
		return c, nil
	}
	if s.consent != nil {
		ok, err := s.consent.RecordingConsent(ctx, c)
		if err != nil {
			return c, fmt.Errorf("recording consent: %w", err)
		}
		if !ok {
			s.log.Info("recording blocked without consent", "call_id", c.ID)
			if s.audit != nil {
				if aerr := s.audit.LogRecordingBlocked(ctx, c.WorkspaceID, audit.ActorFrom(ctx), c.ID); aerr != nil {
					s.log.Warn("audit recording block failed", "call_id", c.ID, "err", aerr)
				}
			}
			return c, ErrConsentRequired
		}
	}

	rid, err := s.provider.StartRecording(ctx, c.ProviderCallID, s.cfg.RecordingCallbackURL)
	if err != nil {
		return c, err
	}
	return s.calls.Apply(ctx, callID, calls.Event{Type: calls.EventRecordingStarted, Payload: calls.Payload{RecordingID: rid}})
}

func (s *Service) StopRecording(ctx context.Context, callID string) (calls.Call, error) {
	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if err := precheck(c, calls.EventRecordingStopped); err != nil {
		s.auditRejected(ctx, c, err)
		return c, err
	}
	if !c.Recording {
		return c, nil
	}
	rid, err := s.provider.StopRecording(ctx, c.ProviderCallID)
	if err != nil {
		return c, err
	}
	return s.calls.Apply(ctx, callID, calls.Event{Type: calls.EventRecordingStopped, Payload: calls.Payload{RecordingID: rid}})
}

func (s *Service) Agent(ctx context.Context, agentID string) (agents.Agent, error) {
	return s.agents.Get(ctx, agentID)
}

// RegisterAgent logs an agent in; queued callers are offered to it right away.
func (s *Service) RegisterAgent(ctx context.Context, a agents.Agent) (agents.Agent, error) {
	if a.Endpoint != "" && !strings.Contains(a.Endpoint, ":") {
		a.Endpoint = "client:" + a.Endpoint
	}
	return s.agents.Register(ctx, a)
}

// SetAgentStatus changes availability. With force, a busy agent is taken off its call,
// the call is hung up and the release is audited.
func (s *Service) SetAgentStatus(ctx context.Context, agentID string, status agents.Status, opts agents.SetStatusOptions) (agents.StatusChange, error) {
	ch, err := s.agents.SetStatus(ctx, agentID, status, opts)
	if err != nil || ch.ReleasedCallID == "" {
		return ch, err
	}

	callID := ch.ReleasedCallID
	if s.audit != nil {
		if aerr := s.audit.LogForceRelease(ctx, ch.Agent.WorkspaceID, audit.ActorFrom(ctx), agentID, callID, string(status)); aerr != nil {
			s.log.Warn("audit force release failed", "agent_id", agentID, "err", aerr)
		}
	}
	if _, err := s.Hangup(ctx, callID); err != nil && !errors.Is(err, calls.ErrNotFound) {
		s.log.Error("hang up force-released call failed", "call_id", callID, "agent_id", agentID, "err", err)
	}
	return ch, nil
}

func precheck(c calls.Call, t calls.EventType) error {
	if out, _ := calls.Decide(c.Status, t); out == calls.Reject {
		return &calls.StateError{CallID: c.ID, From: c.Status, Event: t}
	}
	return nil
}

func (s *Service) auditRejected(ctx context.Context, c calls.Call, err error) {
	var se *calls.StateError
	if !errors.As(err, &se) {
		return
	}
	metrics.StateErrors.WithLabelValues(string(se.Event)).Inc()
	if s.audit == nil || c.WorkspaceID == "" {
		return
	}
	if aerr := s.audit.LogStateRejected(ctx, c.WorkspaceID, audit.ActorFrom(ctx), se.CallID, err.Error()); aerr != nil {
		s.log.Warn("audit state rejection failed", "call_id", se.CallID, "err", aerr)
	}
}
