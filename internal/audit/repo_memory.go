package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps audit events in process, for tests and single-node development.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	byCall map[string][]int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byCall: map[string][]int{}} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if e.CallID != "" {
		if r.byCall == nil {
			r.byCall = map[string][]int{}
		}
		r.byCall[e.CallID] = append(r.byCall[e.CallID], len(r.events)-1)
	}
	return nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, workspaceID, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.byCall[callID]))
	for _, i := range r.byCall[callID] {
		if e := r.events[i]; e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Events returns every stored event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
