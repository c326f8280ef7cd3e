package agents

import (
	"context"
	"sync"
)

// Repository is the persistence contract for agents.
// Update succeeds only if the stored version equals expectedVersion.
type Repository interface {
	Upsert(ctx context.Context, a Agent) error
	Get(ctx context.Context, id string) (Agent, error)
	Update(ctx context.Context, a Agent, expectedVersion int64) error
	ListByStatus(ctx context.Context, workspaceID string, status Status) ([]Agent, error)
	FindByCall(ctx context.Context, callID string) (Agent, error)
}

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{agents: map[string]Agent{}}
}

func (r *MemoryRepo) Upsert(ctx context.Context, a Agent) error {
	if a.ID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, a Agent, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.agents[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	a.Version = expectedVersion + 1
	r.agents[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, workspaceID string, status Status) ([]Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0)
	for _, a := range r.agents {
		if a.WorkspaceID == workspaceID && a.Status == status {
			out = append(out, a.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepo) FindByCall(ctx context.Context, callID string) (Agent, error) {
	if callID == "" {
		return Agent{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.CurrentCallID == callID {
			return a.clone(), nil
		}
	}
	return Agent{}, ErrNotFound
}
