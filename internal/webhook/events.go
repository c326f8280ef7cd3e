package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

// Callback kinds, also used as metric labels.
const (
	KindVoice     = "voice"
	KindStatus    = "status"
	KindRecording = "recording"
)

// Processing results recorded per callback.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
	ResultParked    = "parked"
)

// ProviderEvent is the trail entry of one accepted provider callback.
type ProviderEvent struct {
	Key            string            `json:"key" db:"idempotency_key"`
	Kind           string            `json:"kind" db:"kind"`
	ProviderCallID string            `json:"provider_call_id" db:"provider_call_id"`
	CallID         string            `json:"call_id,omitempty" db:"call_id"`
	Result         string            `json:"result" db:"result"`
	Params         map[string]string `json:"params" db:"payload"`
	ReceivedAt     time.Time         `json:"received_at" db:"received_at"`
}

// EventLog persists the provider callback trail. Writes are best-effort.
type EventLog interface {
	Record(ctx context.Context, e ProviderEvent) error
}

type MemoryEventLog struct {
	mu     sync.Mutex
	events []ProviderEvent
}

func NewMemoryEventLog() *MemoryEventLog { return &MemoryEventLog{} }

func (l *MemoryEventLog) Record(_ context.Context, e ProviderEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *MemoryEventLog) Events() []ProviderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ProviderEvent(nil), l.events...)
}

// PostgresEventLog writes to provider_events. A key is stored once; the first result wins.
type PostgresEventLog struct {
	db *sql.DB
}

func NewPostgresEventLog(db *sql.DB) *PostgresEventLog { return &PostgresEventLog{db: db} }

func (l *PostgresEventLog) Record(ctx context.Context, e ProviderEvent) error {
	payload, err := json.Marshal(e.Params)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO provider_events (idempotency_key, kind, provider_call_id, call_id, result, payload, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (idempotency_key) DO NOTHING
`
	_, err = l.db.ExecContext(ctx, q, e.Key, e.Kind, e.ProviderCallID, e.CallID, e.Result, payload, e.ReceivedAt)
	return err
}
