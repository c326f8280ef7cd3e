package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo stores calls in the calls table (see migrations/0001_init.sql).
//
// provider_call_id carries a partial unique index (WHERE provider_call_id <> ''), so a
// second live binding of the same provider call fails with a unique violation.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `id, workspace_id, direction, from_number, to_number, status, agent_id, campaign_id,
contact_id, provider_call_id, queue_id, priority, enqueued_at, start_time, connected_at, end_time, duration,
hold_start_time, total_hold_time, muted, recording, recording_id, transferred_from, transferred_at,
failure_reason, hangup_requested, metadata, version, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	q := `INSERT INTO calls (` + callColumns + `) VALUES (
$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.WorkspaceID, c.Direction, c.From, c.To, c.Status, c.AgentID, c.CampaignID,
		c.ContactID, c.ProviderCallID, c.QueueID, c.Priority, c.EnqueuedAt, c.StartTime, c.ConnectedAt, c.EndTime, c.DurationSeconds,
		c.HoldStartTime, c.TotalHoldSeconds, c.Muted, c.Recording, c.RecordingID, c.TransferredFrom, c.TransferredAt,
		c.FailureReason, c.HangupRequested, meta, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	return mapPgErr(err)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	if providerCallID == "" {
		return Call{}, ErrNotFound
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) Update(ctx context.Context, c Call, expectedVersion int64) error {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	const q = `
UPDATE calls SET
  status = $3, agent_id = $4, provider_call_id = $5, queue_id = $6, priority = $7, enqueued_at = $8,
  end_time = $9, duration = $10, hold_start_time = $11, total_hold_time = $12, muted = $13,
  recording = $14, recording_id = $15, transferred_from = $16, transferred_at = $17,
  failure_reason = $18, hangup_requested = $19, metadata = $20, updated_at = $21, connected_at = $22,
  version = version + 1
WHERE id = $1 AND version = $2
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID, expectedVersion,
		c.Status, c.AgentID, c.ProviderCallID, c.QueueID, c.Priority, c.EnqueuedAt,
		c.EndTime, c.DurationSeconds, c.HoldStartTime, c.TotalHoldSeconds, c.Muted,
		c.Recording, c.RecordingID, c.TransferredFrom, c.TransferredAt,
		c.FailureReason, c.HangupRequested, meta, c.UpdatedAt, c.ConnectedAt,
	)
	if err != nil {
		return mapPgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, c.ID); err != nil {
		return err
	}
	return ErrVersionConflict
}

func (r *PostgresRepo) CountLiveByCampaign(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM calls
WHERE campaign_id = $1 AND direction = 'outbound'
  AND status NOT IN ('completed', 'no_answer', 'failed')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE status = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListByWorkspace(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]Call, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	q := `SELECT ` + callColumns + ` FROM calls
WHERE workspace_id = $1 AND created_at >= $2 AND created_at < $3 AND ($4 = '' OR campaign_id = $4)
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var meta []byte
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.Direction, &c.From, &c.To, &c.Status, &c.AgentID, &c.CampaignID,
		&c.ContactID, &c.ProviderCallID, &c.QueueID, &c.Priority, &c.EnqueuedAt, &c.StartTime, &c.ConnectedAt, &c.EndTime, &c.DurationSeconds,
		&c.HoldStartTime, &c.TotalHoldSeconds, &c.Muted, &c.Recording, &c.RecordingID, &c.TransferredFrom, &c.TransferredAt,
		&c.FailureReason, &c.HangupRequested, &meta, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, fmt.Errorf("calls: decode metadata: %w", err)
		}
	}
	return c, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateProviderCall
	}
	return err
}
