package reporting

import (
	"context"
	"errors"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/dialer"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallLister reads call records for a workspace. calls.Store satisfies it.
//
// Implementations must filter by workspace.
type CallLister interface {
	ListByWorkspace(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error)
}

// ContactLister reads a campaign's contacts. dialer.Dialer satisfies it.
type ContactLister interface {
	Contacts(ctx context.Context, campaignID string) ([]dialer.Contact, error)
}

type Service struct {
	calls    CallLister
	contacts ContactLister
}

func NewService(callsRepo CallLister, contacts ContactLister) *Service {
	return &Service{calls: callsRepo, contacts: contacts}
}

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call repository not configured")
	}

	rows, err := s.calls.ListByWorkspace(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	var ended, held, waited, waitCount int
	for _, c := range rows {
		out.TotalCalls++
		if c.Direction == calls.DirectionInbound {
			out.InboundCalls++
		} else {
			out.OutboundCalls++
		}
		if c.RecordingID != "" {
			out.RecordedCalls++
		}
		if c.TransferredFrom != "" || c.Metadata["transferred_to"] != "" {
			out.TransferredCalls++
		}
		if c.ConnectedAt != nil {
			out.ConnectedCalls++
			held += c.TotalHoldSeconds
			if c.EnqueuedAt != nil && c.ConnectedAt.After(*c.EnqueuedAt) {
				waited += int(c.ConnectedAt.Sub(*c.EnqueuedAt).Seconds())
				waitCount++
			}
		}

		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
			if c.FailureReason != "" {
				if out.FailureReasons == nil {
					out.FailureReasons = map[string]int{}
				}
				out.FailureReasons[c.FailureReason]++
			}
			if c.FailureReason == calls.ReasonAbandoned || c.FailureReason == calls.ReasonQueueTimeout {
				out.AbandonedCalls++
			}
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		default:
			out.LiveCalls++
		}
		if c.Status.Terminal() {
			ended++
			out.TotalDurationSeconds += c.DurationSeconds
		}
	}
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	if out.ConnectedCalls > 0 {
		out.AverageHoldSeconds = held / out.ConnectedCalls
	}
	if waitCount > 0 {
		out.AverageWaitSeconds = waited / waitCount
	}
	return out, nil
}

func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" || !validRange(req.Range) {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if s.calls == nil || s.contacts == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	contacts, err := s.contacts.Contacts(ctx, req.CampaignID)
	if err != nil {
		return CampaignSummary{}, err
	}
	rows, err := s.calls.ListByWorkspace(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	for _, c := range contacts {
		if c.WorkspaceID != req.WorkspaceID {
			continue
		}
		out.Contacts++
		switch c.Status {
		case dialer.ContactPending:
			out.PendingContacts++
		case dialer.ContactInProgress:
			out.InProgress++
		case dialer.ContactCompleted:
			out.CompletedContacts++
		case dialer.ContactExhausted:
			out.ExhaustedContacts++
		}
	}
	for _, c := range rows {
		if c.Direction != calls.DirectionOutbound {
			continue
		}
		out.CallsAttempted++
		if c.ConnectedAt != nil {
			out.CallsConnected++
		}
	}

	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
	}
	if out.Contacts > 0 {
		out.CompletionRate = float64(out.CompletedContacts) / float64(out.Contacts)
	}
	return out, nil
}
