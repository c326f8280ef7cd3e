package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callcenter/internal/locks"
)

// AvailabilityObserver is told when an agent enters AVAILABLE (release, login, status change).
// It runs after the agent lock is released.
type AvailabilityObserver interface {
	AgentAvailable(ctx context.Context, a Agent)
}

type AvailabilityFunc func(ctx context.Context, a Agent)

func (f AvailabilityFunc) AgentAvailable(ctx context.Context, a Agent) { f(ctx, a) }

// AssignmentLostFunc handles a call whose assign transition committed while the agent
// could not be saved as BUSY. It runs after the agent lock is released.
type AssignmentLostFunc func(ctx context.Context, agentID, callID string, cause error)

// Coordinator owns agent status. Every change runs under the agent's lock; reservations
// hold that lock across the caller's call transition so an agent is never double-booked.
type Coordinator struct {
	repo  Repository
	locks locks.Locker
	log   *slog.Logger
	clock func() time.Time

	mu        sync.RWMutex
	observers []AvailabilityObserver
	lost      AssignmentLostFunc
}

func NewCoordinator(repo Repository, locker locks.Locker, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{repo: repo, locks: locker, log: log, clock: time.Now}
}

// SetClock replaces the time source; intended for tests.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

// OnAssignmentLost sets the compensation for Reserve failing after its assign step.
func (c *Coordinator) OnAssignmentLost(fn AssignmentLostFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

func (c *Coordinator) Subscribe(o AvailabilityObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Coordinator) Get(ctx context.Context, id string) (Agent, error) {
	return c.repo.Get(ctx, id)
}

func (c *Coordinator) ListAvailable(ctx context.Context, workspaceID string) ([]Agent, error) {
	return c.repo.ListByStatus(ctx, workspaceID, StatusAvailable)
}

// CountOnDuty counts agents taking calls in a workspace (AVAILABLE or BUSY).
func (c *Coordinator) CountOnDuty(ctx context.Context, workspaceID string) (int, error) {
	n := 0
	for _, st := range []Status{StatusAvailable, StatusBusy} {
		list, err := c.repo.ListByStatus(ctx, workspaceID, st)
		if err != nil {
			return 0, err
		}
		n += len(list)
	}
	return n, nil
}

// FindByCall returns the agent currently holding callID.
func (c *Coordinator) FindByCall(ctx context.Context, callID string) (Agent, error) {
	return c.repo.FindByCall(ctx, callID)
}

// Register logs an agent in. A new or away agent becomes AVAILABLE; a busy agent keeps
// its call and only has its profile refreshed.
func (c *Coordinator) Register(ctx context.Context, in Agent) (Agent, error) {
	if in.ID == "" || in.WorkspaceID == "" || in.Endpoint == "" {
		return Agent{}, fmt.Errorf("%w: id, workspace_id and endpoint are required", ErrInvalidArgument)
	}
	unlock, err := c.locks.Lock(ctx, locks.AgentKey(in.ID))
	if err != nil {
		return Agent{}, err
	}

	now := c.clock().UTC()
	a, err := c.repo.Get(ctx, in.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		a = Agent{ID: in.ID, RegisteredAt: now}
	case err != nil:
		unlock()
		return Agent{}, err
	}
	a.WorkspaceID = in.WorkspaceID
	a.Name = in.Name
	a.Endpoint = in.Endpoint
	a.Skills = append([]string(nil), in.Skills...)
	if a.Status != StatusBusy {
		if a.Status != StatusAvailable {
			a.AvailableSince = now
		}
		a.Status = StatusAvailable
		a.PendingStatus = ""
	}
	a.Version++
	a.UpdatedAt = now
	err = c.repo.Upsert(ctx, a)
	unlock()
	if err != nil {
		return Agent{}, err
	}

	c.log.Info("agent registered", "agent_id", a.ID, "workspace_id", a.WorkspaceID, "status", a.Status)
	if a.Status == StatusAvailable {
		c.notify(ctx, a)
	}
	return a.clone(), nil
}

type SetStatusOptions struct {
	// Force ends the current assignment immediately. The caller owns the orphaned call.
	Force bool
	// WhenFree records ON_BREAK/OFFLINE as pending while busy instead of failing.
	WhenFree bool
}

type StatusChange struct {
	Agent Agent
	// ReleasedCallID is the call a forced change took the agent off.
	ReleasedCallID string
	// Deferred reports the status was recorded as pending until release.
	Deferred bool
}

// SetStatus changes an agent's availability. BUSY is reachable only through Reserve.
// Going ON_BREAK or OFFLINE with a call in hand fails with ErrConflict unless
// opts.Force or opts.WhenFree is set.
func (c *Coordinator) SetStatus(ctx context.Context, agentID string, status Status, opts SetStatusOptions) (StatusChange, error) {
	if !status.Valid() || status == StatusBusy {
		return StatusChange{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}
	var out StatusChange
	a, err := c.update(ctx, agentID, func(a *Agent, now time.Time) error {
		if a.Status == StatusBusy {
			switch {
			case status == StatusAvailable:
				a.PendingStatus = ""
			case opts.Force:
				out.ReleasedCallID = a.CurrentCallID
				a.CurrentCallID = ""
				a.PendingStatus = ""
				a.Status = status
			case opts.WhenFree:
				a.PendingStatus = status
				out.Deferred = true
			default:
				return ErrConflict
			}
			return nil
		}
		if status == StatusAvailable && a.Status != StatusAvailable {
			a.AvailableSince = now
		}
		a.Status = status
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}
	out.Agent = a

	if out.ReleasedCallID != "" {
		c.log.Warn("agent force-released", "agent_id", agentID, "call_id", out.ReleasedCallID, "status", status)
	} else {
		c.log.Info("agent status changed", "agent_id", agentID, "status", a.Status, "pending_status", a.PendingStatus)
	}
	if a.Status == StatusAvailable {
		c.notify(ctx, a)
	}
	return out, nil
}

// Release frees an agent from callID. A pending ON_BREAK/OFFLINE intent is applied,
// otherwise the agent becomes AVAILABLE. Releasing a call the agent no longer holds is a no-op.
func (c *Coordinator) Release(ctx context.Context, agentID, callID string) (Agent, error) {
	a, _, err := c.releaseAgent(ctx, agentID, callID)
	return a, err
}

// ReleaseCall releases whichever agent holds callID. It reports false when nobody does.
func (c *Coordinator) ReleaseCall(ctx context.Context, callID string) (Agent, bool, error) {
	holder, err := c.repo.FindByCall(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, err
	}
	return c.releaseAgent(ctx, holder.ID, callID)
}

func (c *Coordinator) releaseAgent(ctx context.Context, agentID, callID string) (Agent, bool, error) {
	released := false
	a, err := c.update(ctx, agentID, func(a *Agent, now time.Time) error {
		if a.Status != StatusBusy || a.CurrentCallID != callID {
			return errNoChange
		}
		release(a, now)
		released = true
		return nil
	})
	if err != nil {
		return Agent{}, false, err
	}
	if released {
		c.log.Info("agent released", "agent_id", agentID, "call_id", callID, "status", a.Status)
		if a.Status == StatusAvailable {
			c.notify(ctx, a)
		}
	}
	return a, released, nil
}

// Reserve makes agentID BUSY with callID. assign runs while the agent lock is held and
// must perform the matching call transition; if it fails the agent is left untouched.
// ErrNotAvailable means another unit of work claimed the agent first. If the agent
// cannot be saved after assign succeeded, the OnAssignmentLost handler is called.
func (c *Coordinator) Reserve(ctx context.Context, agentID, callID string, assign func(ctx context.Context, a Agent) error) (Agent, error) {
	if callID == "" {
		return Agent{}, ErrInvalidArgument
	}
	assigned := false
	a, err := c.update(ctx, agentID, func(a *Agent, now time.Time) error {
		if a.Status != StatusAvailable {
			return ErrNotAvailable
		}
		if assign != nil {
			if err := assign(ctx, a.clone()); err != nil {
				return err
			}
			assigned = true
		}
		a.Status = StatusBusy
		a.CurrentCallID = callID
		a.PendingStatus = ""
		return nil
	})
	if err != nil {
		if assigned {
			c.log.Error("agent save failed after call was assigned", "agent_id", agentID, "call_id", callID, "err", err)
			c.mu.RLock()
			lost := c.lost
			c.mu.RUnlock()
			if lost != nil {
				lost(context.WithoutCancel(ctx), agentID, callID, err)
			}
		}
		return Agent{}, err
	}
	c.log.Info("agent reserved", "agent_id", agentID, "call_id", callID)
	return a, nil
}

// Handover moves callID from one agent to another. Both agent locks are held (in id
// order) while handover runs the call transitions. On success the target is BUSY with
// the call and the source is released as if the call had ended for it.
func (c *Coordinator) Handover(ctx context.Context, fromID, toID, callID string, handover func(ctx context.Context, to Agent) error) (from, to Agent, err error) {
	if fromID == "" || toID == "" || fromID == toID || callID == "" {
		return Agent{}, Agent{}, ErrInvalidArgument
	}
	from, to, err = c.handoverLocked(ctx, fromID, toID, callID, handover)
	if err != nil {
		return Agent{}, Agent{}, err
	}
	c.log.Info("call handed over", "call_id", callID, "from_agent_id", fromID, "to_agent_id", toID)
	if from.Status == StatusAvailable {
		c.notify(ctx, from)
	}
	return from, to, nil
}

func (c *Coordinator) handoverLocked(ctx context.Context, fromID, toID, callID string, handover func(ctx context.Context, to Agent) error) (Agent, Agent, error) {
	keys := []string{fromID, toID}
	sort.Strings(keys)
	for _, id := range keys {
		unlock, err := c.locks.Lock(ctx, locks.AgentKey(id))
		if err != nil {
			return Agent{}, Agent{}, err
		}
		defer unlock()
	}

	from, err := c.repo.Get(ctx, fromID)
	if err != nil {
		return Agent{}, Agent{}, err
	}
	to, err := c.repo.Get(ctx, toID)
	if err != nil {
		return Agent{}, Agent{}, err
	}
	if from.CurrentCallID != callID {
		return Agent{}, Agent{}, fmt.Errorf("%w: agent %s does not hold call %s", ErrConflict, fromID, callID)
	}
	if to.Status != StatusAvailable {
		return Agent{}, Agent{}, ErrNotAvailable
	}
	if err := handover(ctx, to.clone()); err != nil {
		return Agent{}, Agent{}, err
	}

	now := c.clock().UTC()
	nextTo := to.clone()
	nextTo.Status = StatusBusy
	nextTo.CurrentCallID = callID
	nextTo.PendingStatus = ""
	nextTo.UpdatedAt = now
	nextFrom := from.clone()
	release(&nextFrom, now)
	nextFrom.UpdatedAt = now

	// Release the source first so the call id is never held twice.
	if err := c.repo.Update(ctx, nextFrom, from.Version); err != nil {
		return Agent{}, Agent{}, err
	}
	nextFrom.Version = from.Version + 1
	if err := c.repo.Update(ctx, nextTo, to.Version); err != nil {
		return Agent{}, Agent{}, err
	}
	nextTo.Version = to.Version + 1
	return nextFrom, nextTo, nil
}

func release(a *Agent, now time.Time) {
	a.CurrentCallID = ""
	a.Load++
	if a.PendingStatus.Away() {
		a.Status = a.PendingStatus
	} else {
		a.Status = StatusAvailable
		a.AvailableSince = now
	}
	a.PendingStatus = ""
}

var errNoChange = errors.New("agents: no change")

// update runs fn on a fresh copy of the agent under its lock and persists the result.
func (c *Coordinator) update(ctx context.Context, agentID string, fn func(a *Agent, now time.Time) error) (Agent, error) {
	unlock, err := c.locks.Lock(ctx, locks.AgentKey(agentID))
	if err != nil {
		return Agent{}, err
	}
	defer unlock()

	cur, err := c.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	now := c.clock().UTC()
	next := cur.clone()
	if err := fn(&next, now); err != nil {
		if errors.Is(err, errNoChange) {
			return cur, nil
		}
		return Agent{}, err
	}
	next.UpdatedAt = now
	if err := c.repo.Update(ctx, next, cur.Version); err != nil {
		return Agent{}, err
	}
	next.Version = cur.Version + 1
	return next.clone(), nil
}

func (c *Coordinator) notify(ctx context.Context, a Agent) {
	c.mu.RLock()
	obs := make([]AvailabilityObserver, len(c.observers))
	copy(obs, c.observers)
	c.mu.RUnlock()

	octx := context.WithoutCancel(ctx)
	for _, o := range obs {
		o.AgentAvailable(octx, a.clone())
	}
}
