package dialer

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo stores contacts in the contacts table (see migrations/0001_init.sql).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `id, campaign_id, workspace_id, phone, timezone, status, attempts,
last_attempt, next_attempt_at, last_call_id, version, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Contact) error {
	q := `INSERT INTO contacts (` + contactColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.CampaignID, c.WorkspaceID, c.Phone, c.Timezone, c.Status, c.Attempts,
		c.LastAttempt, c.NextAttemptAt, c.LastCallID, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	return scanContact(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Update(ctx context.Context, c Contact, expectedVersion int64) error {
	const q = `
UPDATE contacts SET
  status = $3, attempts = $4, last_attempt = $5, next_attempt_at = $6, last_call_id = $7,
  updated_at = $8, version = version + 1
WHERE id = $1 AND version = $2
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID, expectedVersion,
		c.Status, c.Attempts, c.LastAttempt, c.NextAttemptAt, c.LastCallID, c.UpdatedAt,
	)
	if err != nil {
		return err
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

func (r *PostgresRepo) ListPending(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts
WHERE campaign_id = $1 AND status = 'pending'
  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
ORDER BY next_attempt_at NULLS FIRST, created_at, id
LIMIT $3`
	if limit <= 0 {
		limit = 1000
	}
	return r.list(ctx, q, campaignID, now, limit)
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, campaignID string) ([]Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE campaign_id = $1
ORDER BY next_attempt_at NULLS FIRST, created_at, id`
	return r.list(ctx, q, campaignID)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
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

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.WorkspaceID, &c.Phone, &c.Timezone, &c.Status, &c.Attempts,
		&c.LastAttempt, &c.NextAttemptAt, &c.LastCallID, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}
