package calls

import (
	"context"
	"errors"
	"sync"
	"time"
)

// parkTTL bounds how long a callback for an unknown provider call id is kept.
const parkTTL = 10 * time.Minute

type parkedEvent struct {
	ev       Event
	parkedAt time.Time
}

// parking holds provider callbacks that arrived before AttachProviderCall bound their
// provider call id. It is per process: the instance that placed the call attaches it.
type parking struct {
	mu     sync.Mutex
	events map[string][]parkedEvent
}

func (p *parking) put(providerCallID string, now time.Time, evs ...parkedEvent) {
	if p.events == nil {
		p.events = map[string][]parkedEvent{}
	}
	for id, pending := range p.events {
		if len(pending) > 0 && now.Sub(pending[len(pending)-1].parkedAt) > parkTTL {
			delete(p.events, id)
		}
	}
	p.events[providerCallID] = append(p.events[providerCallID], evs...)
}

func (p *parking) take(providerCallID string) []parkedEvent {
	evs := p.events[providerCallID]
	delete(p.events, providerCallID)
	return evs
}

// Park keeps ev until providerCallID is attached to a call, then AttachProviderCall
// applies it. If the id is already bound, nothing is parked and the call is returned
// with parked=false so the caller applies ev itself.
func (s *Store) Park(ctx context.Context, providerCallID string, ev Event) (c Call, parked bool, err error) {
	if providerCallID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	s.parked.mu.Lock()
	defer s.parked.mu.Unlock()
	// Checked under the parking lock: AttachProviderCall binds before it drains.
	c, err = s.repo.GetByProviderCallID(ctx, providerCallID)
	switch {
	case err == nil:
		return c, false, nil
	case !errors.Is(err, ErrNotFound):
		return Call{}, false, err
	}
	s.parked.put(providerCallID, s.clock().UTC(), parkedEvent{ev: ev, parkedAt: s.clock().UTC()})
	s.log.Info("provider event parked until call is attached", "provider_call_id", providerCallID, "event", ev.Type)
	return Call{}, true, nil
}

// ParkedCount reports how many events wait for providerCallID.
func (s *Store) ParkedCount(providerCallID string) int {
	s.parked.mu.Lock()
	defer s.parked.mu.Unlock()
	return len(s.parked.events[providerCallID])
}

// replayParked applies events parked for the call's provider id. Events the state machine
// refuses are dropped; a persistence failure puts the rest back.
func (s *Store) replayParked(sess *Session) error {
	pid := sess.call.ProviderCallID
	s.parked.mu.Lock()
	evs := s.parked.take(pid)
	s.parked.mu.Unlock()

	for i, p := range evs {
		ev := p.ev
		ev.CallID = sess.call.ID
		_, err := sess.Apply(ev)
		var se *StateError
		switch {
		case err == nil:
		case errors.As(err, &se):
			s.log.Warn("parked provider event rejected", "call_id", sess.call.ID, "event", ev.Type, "err", err)
		default:
			s.parked.mu.Lock()
			s.parked.put(pid, s.clock().UTC(), evs[i:]...)
			s.parked.mu.Unlock()
			return err
		}
	}
	if len(evs) > 0 {
		s.log.Info("parked provider events replayed", "call_id", sess.call.ID, "provider_call_id", pid, "count", len(evs))
	}
	return nil
}
