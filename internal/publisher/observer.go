package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"callcenter/internal/calls"
)

// StateChange is the payload published for every committed call transition.
type StateChange struct {
	CallID      string            `json:"call_id"`
	WorkspaceID string            `json:"workspace_id"`
	Direction   calls.Direction   `json:"direction"`
	Event       calls.EventType   `json:"event"`
	From        calls.Status      `json:"from"`
	To          calls.Status      `json:"to"`
	AgentID     string            `json:"agent_id,omitempty"`
	QueueID     string            `json:"queue_id,omitempty"`
	CampaignID  string            `json:"campaign_id,omitempty"`
	Reason      string            `json:"failure_reason,omitempty"`
	Recording   bool              `json:"recording"`
	RecordingID string            `json:"recording_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	At          time.Time         `json:"at"`
	Version     int64             `json:"version"`
}

// CallObserver publishes call transitions to <prefix>/calls/<call_id>/state.
// Publish failures are logged and never block the call flow.
type CallObserver struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

func NewCallObserver(pub Publisher, prefix string, log *slog.Logger) *CallObserver {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "callcenter"
	}
	return &CallObserver{pub: pub, prefix: strings.TrimSuffix(prefix, "/"), log: log}
}

// Topic returns the state topic of one call.
func (o *CallObserver) Topic(callID string) string {
	return o.prefix + "/calls/" + callID + "/state"
}

func (o *CallObserver) CallChanged(ctx context.Context, ch calls.Change) {
	c := ch.Next
	msg := StateChange{
		CallID:      c.ID,
		WorkspaceID: c.WorkspaceID,
		Direction:   c.Direction,
		Event:       ch.Event.Type,
		From:        ch.Prev.Status,
		To:          c.Status,
		AgentID:     c.AgentID,
		QueueID:     c.QueueID,
		CampaignID:  c.CampaignID,
		Reason:      c.FailureReason,
		Recording:   c.Recording,
		RecordingID: c.RecordingID,
		Metadata:    c.Metadata,
		At:          c.UpdatedAt,
		Version:     c.Version,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		o.log.Error("marshal call state", "call_id", c.ID, "err", err)
		return
	}
	if err := o.pub.Publish(ctx, o.Topic(c.ID), payload); err != nil {
		o.log.Warn("publish call state failed", "call_id", c.ID, "to", c.Status, "err", err)
	}
}
