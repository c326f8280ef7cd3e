package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table has no UPDATE or DELETE grants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, workspace_id, type, actor_user_id, actor_role, ip_address,
  agent_id, campaign_id, call_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, e.Type, e.ActorUserID, e.ActorRole, e.IPAddress,
		e.AgentID, e.CampaignID, e.CallID, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, workspaceID, callID string) ([]Event, error) {
	const q = `
SELECT id, workspace_id, type, actor_user_id, actor_role, ip_address,
  agent_id, campaign_id, call_id, message, metadata, created_at
FROM audit_events
WHERE workspace_id = $1 AND call_id = $2
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.WorkspaceID, &e.Type, &e.ActorUserID, &e.ActorRole, &e.IPAddress,
			&e.AgentID, &e.CampaignID, &e.CallID, &e.Message, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
