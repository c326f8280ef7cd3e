package locks

import (
	"context"
	"sync"
)

// Locker serializes work per key.
//
// Keys are namespaced with CallKey/AgentKey/CampaignKey. When a unit of work needs
// both an agent and a call, the agent lock is always taken first.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Unlock releases a held lock. Calling it more than once is safe.
type Unlock func()

func CallKey(callID string) string         { return "call:" + callID }
func AgentKey(agentID string) string       { return "agent:" + agentID }
func CampaignKey(campaignID string) string { return "campaign:" + campaignID }

// Local is an in-process lock table keyed by string.
// Entries are reference counted and dropped when nobody holds or waits on them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: map[string]*slot{}}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size reports the number of live entries; used by tests.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
