package control

import (
	"context"
	"errors"
	"fmt"

	"callcenter/internal/agents"
	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/telephony"
)

// TransferKind distinguishes a blind hand-off from a consultative one.
type TransferKind string

const (
	TransferCold TransferKind = "cold"
	TransferWarm TransferKind = "warm"
)

// TransferRequest names exactly one target: another agent or an external number.
type TransferRequest struct {
	AgentID string `json:"agent_id"`
	Number  string `json:"number"`
}

// ColdTransfer hands the caller to another agent or to an external number.
func (s *Service) ColdTransfer(ctx context.Context, callID string, req TransferRequest) (calls.Call, error) {
	switch {
	case req.AgentID != "" && req.Number != "":
		return calls.Call{}, fmt.Errorf("%w: transfer to an agent or a number, not both", ErrInvalidArgument)
	case req.AgentID != "":
		return s.transferToAgent(ctx, callID, req.AgentID, TransferCold)
	case req.Number != "":
		return s.transferToNumber(ctx, callID, req.Number)
	default:
		return calls.Call{}, fmt.Errorf("%w: transfer target required", ErrInvalidArgument)
	}
}

// WarmTransfer moves the call to another agent through CONFERENCE. The conference start,
// the provider redirect and the completion run under one call lock with both agents
// locked, so no other request observes the half-done transfer.
func (s *Service) WarmTransfer(ctx context.Context, callID, toAgentID string) (calls.Call, error) {
	if toAgentID == "" {
		return calls.Call{}, fmt.Errorf("%w: target agent required", ErrInvalidArgument)
	}
	return s.transferToAgent(ctx, callID, toAgentID, TransferWarm)
}

func (s *Service) transferToAgent(ctx context.Context, callID, toAgentID string, kind TransferKind) (calls.Call, error) {
	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if !transferable(c.Status) {
		err := &calls.StateError{CallID: c.ID, From: c.Status, Event: calls.EventConferenceStart}
		s.auditRejected(ctx, c, err)
		return c, err
	}
	fromAgentID := c.AgentID

	var out calls.Call
	_, _, err = s.agents.Handover(ctx, fromAgentID, toAgentID, callID, func(ctx context.Context, to agents.Agent) error {
		if to.WorkspaceID != c.WorkspaceID {
			return fmt.Errorf("%w: agent %s is in another workspace", ErrInvalidArgument, to.ID)
		}
		out, err = s.calls.Do(ctx, callID, func(sess *calls.Session) error {
			cur := sess.Call()
			if cur.AgentID != fromAgentID {
				return fmt.Errorf("%w: call moved to agent %s", agents.ErrConflict, cur.AgentID)
			}
			// Hold does not survive a transfer.
			if cur.Status == calls.StatusOnHold {
				if _, err := sess.Apply(calls.Event{Type: calls.EventUnhold}); err != nil {
					return err
				}
			}
			if _, err := sess.Apply(calls.Event{Type: calls.EventConferenceStart}); err != nil {
				return err
			}
			if err := s.provider.Transfer(sess.Context(), cur.ProviderCallID, to.Endpoint); err != nil {
				// Give the call back to the original agent.
				if _, rerr := sess.Apply(calls.Event{Type: calls.EventTransferComplete, Payload: calls.Payload{AgentID: fromAgentID}}); rerr != nil {
					s.log.Error("restore call after failed transfer", "call_id", callID, "err", rerr)
				}
				return err
			}
			_, err := sess.Apply(calls.Event{Type: calls.EventTransferComplete, Payload: calls.Payload{AgentID: to.ID}})
			return err
		})
		return err
	})
	if err != nil {
		s.log.Warn("transfer failed", "call_id", callID, "from_agent_id", fromAgentID, "to_agent_id", toAgentID, "kind", kind, "err", err)
		s.auditRejected(ctx, c, err)
		if cur, gerr := s.calls.Get(ctx, callID); gerr == nil {
			return cur, err
		}
		return c, err
	}

	s.logTransfer(ctx, out, fromAgentID, toAgentID, kind)
	return out, nil
}

// transferToNumber redirects the caller off the platform. The call ends for us and the
// agent is freed by the router once the call is terminal.
func (s *Service) transferToNumber(ctx context.Context, callID, number string) (calls.Call, error) {
	target, err := telephony.NormalizeE164(number)
	if err != nil {
		return calls.Call{}, err
	}
	var fromAgentID string
	c, err := s.calls.Do(ctx, callID, func(sess *calls.Session) error {
		cur := sess.Call()
		fromAgentID = cur.AgentID
		if !transferable(cur.Status) {
			return &calls.StateError{CallID: cur.ID, From: cur.Status, Event: calls.EventHangup, Detail: "only connected calls can be transferred"}
		}
		if err := s.provider.Transfer(sess.Context(), cur.ProviderCallID, target); err != nil {
			return err
		}
		_, err := sess.Apply(calls.Event{Type: calls.EventHangup})
		return err
	})
	if err != nil {
		s.auditRejected(ctx, c, err)
		return c, err
	}
	if tagged, err := s.calls.SetMetadata(ctx, callID, map[string]string{"transferred_to": target}); err == nil {
		c = tagged
	} else if !errors.Is(err, calls.ErrNotFound) {
		s.log.Warn("record transfer target failed", "call_id", callID, "err", err)
	}
	s.logTransfer(ctx, c, fromAgentID, target, TransferCold)
	return c, nil
}

func transferable(st calls.Status) bool {
	return st == calls.StatusActive || st == calls.StatusOnHold
}

func (s *Service) logTransfer(ctx context.Context, c calls.Call, from, target string, kind TransferKind) {
	s.log.Info("call transferred", "call_id", c.ID, "from", from, "to", target, "kind", kind)
	if s.audit == nil {
		return
	}
	if err := s.audit.LogTransfer(ctx, c.WorkspaceID, audit.ActorFrom(ctx), c.ID, from, target, string(kind)); err != nil {
		s.log.Warn("audit transfer failed", "call_id", c.ID, "err", err)
	}
}
