package reporting

import (
	"context"
	"testing"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/dialer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubContacts []dialer.Contact

func (s stubContacts) Contacts(ctx context.Context, campaignID string) ([]dialer.Contact, error) {
	out := make([]dialer.Contact, 0)
	for _, c := range s {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	return out, nil
}

func seed(t *testing.T, repo *calls.MemoryRepo, cs ...calls.Call) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, repo.Create(context.Background(), c), c.ID)
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestReporting_WorkspaceIsolation(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, repo,
		calls.Call{ID: "c1", WorkspaceID: "w1", Status: calls.StatusCompleted, DurationSeconds: 30, CreatedAt: now},
		calls.Call{ID: "c2", WorkspaceID: "w2", Status: calls.StatusCompleted, DurationSeconds: 50, CreatedAt: now},
	)
	svc := NewService(repo, nil)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.TotalCalls, "only w1's call")
	assert.Equal(t, 30, out.TotalDurationSeconds)
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, repo,
		calls.Call{ID: "c1", WorkspaceID: "w", Direction: calls.DirectionInbound, Status: calls.StatusCompleted, DurationSeconds: 100,
			EnqueuedAt: ptr(now), ConnectedAt: ptr(now.Add(20 * time.Second)), TotalHoldSeconds: 10, RecordingID: "RE1", CreatedAt: now},
		calls.Call{ID: "c2", WorkspaceID: "w", Direction: calls.DirectionInbound, Status: calls.StatusFailed, FailureReason: calls.ReasonQueueTimeout,
			DurationSeconds: 60, CreatedAt: now},
		calls.Call{ID: "c3", WorkspaceID: "w", Direction: calls.DirectionOutbound, Status: calls.StatusActive, ConnectedAt: ptr(now),
			TransferredFrom: "a1", CreatedAt: now},
		calls.Call{ID: "c4", WorkspaceID: "w", Direction: calls.DirectionOutbound, Status: calls.StatusNoAnswer, CreatedAt: now},
		// Outside the range.
		calls.Call{ID: "c5", WorkspaceID: "w", Status: calls.StatusCompleted, CreatedAt: now.Add(2 * time.Hour)},
	)
	svc := NewService(repo, nil)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Equal(t, 4, out.TotalCalls)
	assert.Equal(t, 2, out.InboundCalls)
	assert.Equal(t, 2, out.OutboundCalls)

	assert.Equal(t, 1, out.CompletedCalls)
	assert.Equal(t, 1, out.FailedCalls)
	assert.Equal(t, 1, out.NoAnswerCalls)
	assert.Equal(t, 1, out.LiveCalls)

	assert.Equal(t, 1, out.AbandonedCalls)
	assert.Equal(t, 1, out.FailureReasons[calls.ReasonQueueTimeout])
	assert.Equal(t, 2, out.ConnectedCalls)
	assert.Equal(t, 1, out.TransferredCalls)
	assert.Equal(t, 1, out.RecordedCalls)

	// Three ended calls: 100 + 60 + 0.
	assert.Equal(t, 160, out.TotalDurationSeconds)
	assert.Equal(t, 53, out.AverageDurationSeconds)
	assert.Equal(t, 5, out.AverageHoldSeconds)
	assert.Equal(t, 20, out.AverageWaitSeconds)
}

func TestReporting_CampaignSummary(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, repo,
		calls.Call{ID: "c1", WorkspaceID: "w", CampaignID: "camp", Direction: calls.DirectionOutbound, Status: calls.StatusCompleted, ConnectedAt: ptr(now), CreatedAt: now},
		calls.Call{ID: "c2", WorkspaceID: "w", CampaignID: "camp", Direction: calls.DirectionOutbound, Status: calls.StatusNoAnswer, CreatedAt: now},
		calls.Call{ID: "c3", WorkspaceID: "w", CampaignID: "other", Direction: calls.DirectionOutbound, Status: calls.StatusNoAnswer, CreatedAt: now},
	)
	contacts := stubContacts{
		{ID: "k1", CampaignID: "camp", WorkspaceID: "w", Status: dialer.ContactCompleted},
		{ID: "k2", CampaignID: "camp", WorkspaceID: "w", Status: dialer.ContactPending},
		{ID: "k3", CampaignID: "camp", WorkspaceID: "w", Status: dialer.ContactExhausted},
		{ID: "k4", CampaignID: "camp", WorkspaceID: "w", Status: dialer.ContactInProgress},
	}
	svc := NewService(repo, contacts)

	out, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{WorkspaceID: "w", CampaignID: "camp", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Contacts)
	assert.Equal(t, 1, out.PendingContacts)
	assert.Equal(t, 1, out.InProgress)
	assert.Equal(t, 1, out.CompletedContacts)
	assert.Equal(t, 1, out.ExhaustedContacts)
	assert.Equal(t, 2, out.CallsAttempted)
	assert.Equal(t, 1, out.CallsConnected)
	assert.Equal(t, 0.5, out.ConnectionRate)
	assert.Equal(t, 0.25, out.CompletionRate)
}

func TestReporting_InvalidRequest(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo(), stubContacts{})
	now := time.Now()
	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w", Range: TimeRange{From: now, To: now}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.CampaignSummary(context.Background(), CampaignSummaryRequest{WorkspaceID: "w", Range: TimeRange{From: now, To: now.Add(time.Hour)}})
	assert.ErrorIs(t, err, ErrInvalidRequest, "missing campaign")
}
