package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository is the persistence contract for calls.
//
// Update is an optimistic write: it succeeds only if the stored version equals
// expectedVersion, and stores c with Version = expectedVersion+1.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)
	Update(ctx context.Context, c Call, expectedVersion int64) error

	// CountLiveByCampaign counts non-terminal outbound calls for a campaign.
	CountLiveByCampaign(ctx context.Context, campaignID string) (int, error)
	ListByStatus(ctx context.Context, status Status) ([]Call, error)

	// ListByWorkspace returns calls created in [from, to), oldest first. An empty
	// campaignID matches every call.
	ListByWorkspace(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]Call, error)
}

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu         sync.RWMutex
	calls      map[string]Call
	byProvider map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}, byProvider: map[string]string{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		return ErrInvalidArgument
	}
	if _, ok := r.calls[c.ID]; ok {
		return ErrInvalidArgument
	}
	if c.ProviderCallID != "" {
		if _, ok := r.byProvider[c.ProviderCallID]; ok {
			return ErrDuplicateProviderCall
		}
		r.byProvider[c.ProviderCallID] = c.ID
	}
	r.calls[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c.clone(), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.calls[id].clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.calls[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if c.ProviderCallID != cur.ProviderCallID {
		if owner, taken := r.byProvider[c.ProviderCallID]; taken && owner != c.ID {
			return ErrDuplicateProviderCall
		}
		if cur.ProviderCallID != "" {
			delete(r.byProvider, cur.ProviderCallID)
		}
		if c.ProviderCallID != "" {
			r.byProvider[c.ProviderCallID] = c.ID
		}
	}
	c.Version = expectedVersion + 1
	r.calls[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepo) CountLiveByCampaign(ctx context.Context, campaignID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.calls {
		if c.CampaignID == campaignID && c.Direction == DirectionOutbound && !c.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, status Status) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.Status == status {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListByWorkspace(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]Call, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		if campaignID != "" && c.CampaignID != campaignID {
			continue
		}
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
