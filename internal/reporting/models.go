package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for aggregated call figures in one workspace.
type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`
	LiveCalls      int `json:"live_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`

	// AbandonedCalls counts callers that gave up or timed out in a queue.
	AbandonedCalls   int `json:"abandoned_calls"`
	ConnectedCalls   int `json:"connected_calls"`
	TransferredCalls int `json:"transferred_calls"`
	RecordedCalls    int `json:"recorded_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	AverageHoldSeconds     int `json:"average_hold_seconds"`
	// AverageWaitSeconds is measured from enqueue to agent connect.
	AverageWaitSeconds int `json:"average_wait_seconds"`

	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
}

// CampaignSummaryRequest asks for dialing progress of one campaign.
type CampaignSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id"`
}

type CampaignSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`

	Contacts          int `json:"contacts"`
	PendingContacts   int `json:"pending_contacts"`
	InProgress        int `json:"in_progress_contacts"`
	CompletedContacts int `json:"completed_contacts"`
	ExhaustedContacts int `json:"exhausted_contacts"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`

	ConnectionRate float64 `json:"connection_rate"`
	CompletionRate float64 `json:"completion_rate"`
}
