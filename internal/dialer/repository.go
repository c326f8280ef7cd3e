package dialer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ContactRepository persists contacts. Update is an optimistic write against expectedVersion.
type ContactRepository interface {
	Create(ctx context.Context, c Contact) error
	Get(ctx context.Context, id string) (Contact, error)
	Update(ctx context.Context, c Contact, expectedVersion int64) error
	// ListPending returns PENDING contacts of a campaign whose next attempt is due,
	// oldest first.
	ListPending(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]Contact, error)
}

// MemoryRepo is an in-memory ContactRepository for tests and single-node development.
type MemoryRepo struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{contacts: map[string]Contact{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		return ErrInvalidArgument
	}
	if _, ok := r.contacts[c.ID]; ok {
		return ErrInvalidArgument
	}
	r.contacts[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c.clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Contact, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.contacts[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	c.Version = expectedVersion + 1
	r.contacts[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepo) ListPending(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, 0)
	for _, c := range r.contacts {
		if c.CampaignID != campaignID || c.Status != ContactPending {
			continue
		}
		if c.NextAttemptAt != nil && c.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, c.clone())
	}
	sortContacts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListByCampaign(ctx context.Context, campaignID string) ([]Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, 0)
	for _, c := range r.contacts {
		if c.CampaignID == campaignID {
			out = append(out, c.clone())
		}
	}
	sortContacts(out)
	return out, nil
}

// sortContacts orders never-attempted contacts first, then by due time and creation.
func sortContacts(cs []Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if (a.NextAttemptAt == nil) != (b.NextAttemptAt == nil) {
			return a.NextAttemptAt == nil
		}
		if a.NextAttemptAt != nil && !a.NextAttemptAt.Equal(*b.NextAttemptAt) {
			return a.NextAttemptAt.Before(*b.NextAttemptAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
