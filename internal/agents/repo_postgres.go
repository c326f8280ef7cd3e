package agents

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// PostgresRepo stores agents in the agents table. current_call_id has a partial unique
// index so two agents can never hold the same call.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `id, workspace_id, name, status, pending_status, current_call_id, skills, endpoint,
available_since, load, registered_at, version, updated_at`

func (r *PostgresRepo) Upsert(ctx context.Context, a Agent) error {
	q := `INSERT INTO agents (` + agentColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  workspace_id = EXCLUDED.workspace_id, name = EXCLUDED.name, status = EXCLUDED.status,
  pending_status = EXCLUDED.pending_status, current_call_id = EXCLUDED.current_call_id,
  skills = EXCLUDED.skills, endpoint = EXCLUDED.endpoint, available_since = EXCLUDED.available_since,
  load = EXCLUDED.load, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.WorkspaceID, a.Name, a.Status, a.PendingStatus, a.CurrentCallID, joinSkills(a.Skills), a.Endpoint,
		a.AvailableSince, a.Load, a.RegisteredAt, a.Version, a.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Update(ctx context.Context, a Agent, expectedVersion int64) error {
	const q = `
UPDATE agents SET
  status = $3, pending_status = $4, current_call_id = $5, skills = $6, endpoint = $7,
  available_since = $8, load = $9, updated_at = $10, version = version + 1
WHERE id = $1 AND version = $2
`
	res, err := r.db.ExecContext(ctx, q,
		a.ID, expectedVersion,
		a.Status, a.PendingStatus, a.CurrentCallID, joinSkills(a.Skills), a.Endpoint,
		a.AvailableSince, a.Load, a.UpdatedAt,
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
	if _, err := r.Get(ctx, a.ID); err != nil {
		return err
	}
	return ErrVersionConflict
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, workspaceID string, status Status) ([]Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE workspace_id = $1 AND status = $2`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindByCall(ctx context.Context, callID string) (Agent, error) {
	if callID == "" {
		return Agent{}, ErrNotFound
	}
	q := `SELECT ` + agentColumns + ` FROM agents WHERE current_call_id = $1`
	return scanAgent(r.db.QueryRowContext(ctx, q, callID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (Agent, error) {
	var a Agent
	var skills string
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.Name, &a.Status, &a.PendingStatus, &a.CurrentCallID, &skills, &a.Endpoint,
		&a.AvailableSince, &a.Load, &a.RegisteredAt, &a.Version, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	a.Skills = splitSkills(skills)
	return a, nil
}

// Skills are stored comma-separated; skill names never contain commas.
func joinSkills(s []string) string { return strings.Join(s, ",") }

func splitSkills(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
