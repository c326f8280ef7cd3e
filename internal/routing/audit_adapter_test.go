package routing

import (
	"context"
	"testing"

	"callcenter/internal/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditAdapter_DefaultsToSystemActor(t *testing.T) {
	repo := audit.NewMemoryRepo()
	a := AuditAdapter{Audit: audit.NewService(repo)}

	require.NoError(t, a.LogAbandoned(context.Background(), "ws-1", "call-1", "q-1", "abandoned"))
	ctx := audit.WithActor(context.Background(), audit.Actor{Role: "provider", IP: "54.1.1.1"})
	require.NoError(t, a.LogAbandoned(ctx, "ws-1", "call-2", "q-1", "queue_timeout"))

	evs := repo.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "system", evs[0].ActorRole)
	assert.Equal(t, audit.EventTypeQueueAbandoned, evs[0].Type)
	assert.Equal(t, "provider", evs[1].ActorRole)
	assert.Equal(t, "54.1.1.1", evs[1].IPAddress)
}

func TestAuditAdapter_NilServiceIsNoop(t *testing.T) {
	assert.NoError(t, (AuditAdapter{}).LogAbandoned(context.Background(), "ws", "c", "q", "abandoned"))
}
