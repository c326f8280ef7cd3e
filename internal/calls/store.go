package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callcenter/internal/locks"

	"github.com/google/uuid"
)

// Change is one committed transition, delivered to observers after the call lock is released.
type Change struct {
	Prev  Call
	Next  Call
	Event Event
}

// Observer reacts to committed changes. Observers run outside the call lock and may
// start new units of work (agent release, dequeue, contact bookkeeping).
type Observer interface {
	CallChanged(ctx context.Context, ch Change)
}

type ObserverFunc func(ctx context.Context, ch Change)

func (f ObserverFunc) CallChanged(ctx context.Context, ch Change) { f(ctx, ch) }

// Store is the only writer of call state. Every mutation for a call id runs under
// the call's lock and is persisted with an optimistic version check.
type Store struct {
	repo  Repository
	locks locks.Locker
	log   *slog.Logger
	clock func() time.Time

	mu        sync.RWMutex
	observers []Observer

	parked parking

	// maxAttempts bounds retries after a version conflict.
	maxAttempts int
}

func NewStore(repo Repository, locker locks.Locker, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, locks: locker, log: log, clock: time.Now, maxAttempts: 3}
}

// SetClock replaces the time source; intended for tests.
func (s *Store) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Create stores a new call. New calls start in DIALING (outbound) or RINGING (inbound).
func (s *Store) Create(ctx context.Context, c Call) (Call, error) {
	if c.Status == "" {
		if c.Direction == DirectionInbound {
			c.Status = StatusRinging
		} else {
			c.Status = StatusDialing
		}
	}
	if c.Status != StatusDialing && c.Status != StatusRinging {
		return Call{}, fmt.Errorf("%w: initial status %s", ErrInvalidArgument, c.Status)
	}
	if c.Direction != DirectionInbound && c.Direction != DirectionOutbound {
		return Call{}, fmt.Errorf("%w: direction %q", ErrInvalidArgument, c.Direction)
	}
	if c.AgentID != "" {
		return Call{}, fmt.Errorf("%w: new calls carry no agent", ErrInvalidArgument)
	}

	now := s.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartTime.IsZero() {
		c.StartTime = now
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1

	if err := s.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	s.log.Info("call created", "call_id", c.ID, "direction", c.Direction, "status", c.Status, "provider_call_id", c.ProviderCallID)
	return c.clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (Call, error) {
	return s.repo.Get(ctx, id)
}

func (s *Store) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	return s.repo.GetByProviderCallID(ctx, providerCallID)
}

func (s *Store) CountLiveByCampaign(ctx context.Context, campaignID string) (int, error) {
	return s.repo.CountLiveByCampaign(ctx, campaignID)
}

func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Call, error) {
	return s.repo.ListByStatus(ctx, status)
}

func (s *Store) ListByWorkspace(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]Call, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID, from, to, campaignID)
}

// Apply runs a single event against a call.
func (s *Store) Apply(ctx context.Context, callID string, ev Event) (Call, error) {
	return s.Do(ctx, callID, func(sess *Session) error {
		_, err := sess.Apply(ev)
		return err
	})
}

// Do runs fn with exclusive access to one call. Every Session.Apply inside fn is
// persisted immediately; observers see the changes once fn returns and the lock is released.
//
// A version conflict before anything was committed restarts fn on freshly read state.
func (s *Store) Do(ctx context.Context, callID string, fn func(sess *Session) error) (Call, error) {
	if callID == "" {
		return Call{}, ErrInvalidArgument
	}
	for attempt := 1; ; attempt++ {
		out, changes, err := s.doOnce(ctx, callID, fn)
		s.notify(ctx, changes)
		if errors.Is(err, ErrVersionConflict) && len(changes) == 0 && attempt < s.maxAttempts {
			s.log.Debug("call version conflict, retrying", "call_id", callID, "attempt", attempt)
			continue
		}
		return out, err
	}
}

func (s *Store) doOnce(ctx context.Context, callID string, fn func(sess *Session) error) (Call, []Change, error) {
	unlock, err := s.locks.Lock(ctx, locks.CallKey(callID))
	if err != nil {
		return Call{}, nil, err
	}
	defer unlock()

	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, nil, err
	}
	sess := &Session{ctx: ctx, store: s, call: c}
	err = fn(sess)
	return sess.call.clone(), sess.changes, err
}

func (s *Store) notify(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()

	octx := context.WithoutCancel(ctx)
	for _, ch := range changes {
		for _, o := range obs {
			o.CallChanged(octx, ch)
		}
	}
}

// AttachProviderCall binds the provider's call id once placement returns and applies
// callbacks parked for that id in the meantime. The second result reports a hangup that
// was requested before the id was known.
func (s *Store) AttachProviderCall(ctx context.Context, callID, providerCallID string) (Call, bool, error) {
	if providerCallID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	var pending bool
	c, err := s.Do(ctx, callID, func(sess *Session) error {
		cur := sess.call
		if cur.ProviderCallID == providerCallID {
			if err := s.replayParked(sess); err != nil {
				return err
			}
			pending = sess.call.HangupRequested && !sess.call.Status.Terminal()
			return nil
		}
		if cur.ProviderCallID != "" {
			return fmt.Errorf("%w: call %s already bound to %s", ErrDuplicateProviderCall, callID, cur.ProviderCallID)
		}
		next := cur.clone()
		next.ProviderCallID = providerCallID
		if err := sess.save(next); err != nil {
			return err
		}
		if err := s.replayParked(sess); err != nil {
			return err
		}
		pending = sess.call.HangupRequested && !sess.call.Status.Terminal()
		return nil
	})
	return c, pending, err
}

// RequestHangup records a hangup for a call whose provider id is not known yet.
// It reports whether the provider id is already bound, in which case the caller hangs up directly.
func (s *Store) RequestHangup(ctx context.Context, callID string) (Call, bool, error) {
	var bound bool
	c, err := s.Do(ctx, callID, func(sess *Session) error {
		cur := sess.call
		if cur.ProviderCallID != "" {
			bound = true
			return nil
		}
		if cur.HangupRequested || cur.Status.Terminal() {
			return nil
		}
		next := cur.clone()
		next.HangupRequested = true
		return sess.save(next)
	})
	return c, bound, err
}

// SetMetadata merges keys into a call's metadata.
func (s *Store) SetMetadata(ctx context.Context, callID string, kv map[string]string) (Call, error) {
	return s.Do(ctx, callID, func(sess *Session) error {
		next := sess.call.clone()
		if next.Metadata == nil {
			next.Metadata = map[string]string{}
		}
		for k, v := range kv {
			next.Metadata[k] = v
		}
		return sess.save(next)
	})
}

// Session is exclusive access to one call inside Store.Do.
type Session struct {
	ctx     context.Context
	store   *Store
	call    Call
	changes []Change
}

// Call returns a copy of the call as currently stored.
func (s *Session) Call() Call { return s.call.clone() }

// Context returns the context of the unit of work holding the call.
func (s *Session) Context() context.Context { return s.ctx }

// Apply runs ev through the transition table and persists the result.
// Ignored events return the unchanged call and a nil error.
func (s *Session) Apply(ev Event) (Call, error) {
	if ev.CallID == "" {
		ev.CallID = s.call.ID
	}
	now := s.store.clock().UTC()
	if ev.At.IsZero() {
		ev.At = now
	}
	next, changed, err := transition(s.call.clone(), ev, now)
	if err != nil {
		s.store.log.Warn("call transition rejected", "call_id", s.call.ID, "status", s.call.Status, "event", ev.Type, "err", err)
		return s.call.clone(), err
	}
	if !changed {
		s.store.log.Debug("call event ignored", "call_id", s.call.ID, "status", s.call.Status, "event", ev.Type)
		return s.call.clone(), nil
	}
	prev := s.call
	if err := s.persist(next); err != nil {
		return prev.clone(), err
	}
	s.changes = append(s.changes, Change{Prev: prev.clone(), Next: s.call.clone(), Event: ev})
	s.store.log.Info("call transition", "call_id", s.call.ID, "from", prev.Status, "to", s.call.Status, "event", ev.Type, "agent_id", s.call.AgentID)
	return s.call.clone(), nil
}

// save persists a field-only update that does not pass through the transition table.
func (s *Session) save(next Call) error {
	next.UpdatedAt = s.store.clock().UTC()
	return s.persist(next)
}

func (s *Session) persist(next Call) error {
	expected := s.call.Version
	if err := s.store.repo.Update(s.ctx, next, expected); err != nil {
		return err
	}
	next.Version = expected + 1
	s.call = next
	return nil
}
