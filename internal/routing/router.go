package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"callcenter/internal/agents"
	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/queue"
	"callcenter/internal/telephony"
)

// NumberRoute is where calls to one dialed number go.
type NumberRoute struct {
	WorkspaceID string
	QueueID     string
	// Priority overrides the queue's tier for calls to this number.
	Priority *queue.Priority
}

// Provider is the part of the telephony adapter the router drives.
type Provider interface {
	Transfer(ctx context.Context, providerCallID, target string) error
	Hangup(ctx context.Context, providerCallID string) error
}

type Config struct {
	// Numbers maps an E.164 dialed number to its route.
	Numbers map[string]NumberRoute
	// MaxReserveAttempts bounds how often the candidate list is re-read after
	// every candidate was claimed by a concurrent assignment.
	MaxReserveAttempts int
}

var errNoAgent = errors.New("routing: no agent available")

// Router assigns ringing and queued calls to agents.
//
// An assignment is one unit of work: the agent is reserved under its lock and the call
// moves to ASSIGNED before the lock is released, so two calls never get the same agent.
type Router struct {
	calls    *calls.Store
	agents   *agents.Coordinator
	queues   *queue.Manager
	provider Provider
	abandon  AbandonLogger

	numbers  map[string]NumberRoute
	attempts int

	log   *slog.Logger
	clock func() time.Time
}

func NewRouter(store *calls.Store, coord *agents.Coordinator, queues *queue.Manager, provider Provider, cfg Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxReserveAttempts <= 0 {
		cfg.MaxReserveAttempts = 3
	}
	numbers := make(map[string]NumberRoute, len(cfg.Numbers))
	for k, v := range cfg.Numbers {
		numbers[k] = v
	}
	return &Router{
		calls:    store,
		agents:   coord,
		queues:   queues,
		provider: provider,
		numbers:  numbers,
		attempts: cfg.MaxReserveAttempts,
		log:      log,
		clock:    time.Now,
	}
}

// SetClock replaces the time source; intended for tests.
func (r *Router) SetClock(clock func() time.Time) { r.clock = clock }

func (r *Router) SetAbandonLogger(l AbandonLogger) { r.abandon = l }

// Attach subscribes the router to call and agent changes.
func (r *Router) Attach() {
	r.calls.Subscribe(r)
	r.agents.Subscribe(r)
	r.agents.OnAssignmentLost(r.assignmentLost)
}

// assignmentLost fails a call left ASSIGNED to an agent that was never marked BUSY.
// ASSIGNED has no way back to the queue, so the caller is hung up.
func (r *Router) assignmentLost(ctx context.Context, agentID, callID string, cause error) {
	c, err := r.calls.Apply(ctx, callID, calls.Event{Type: calls.EventFail, Payload: calls.Payload{Reason: calls.ReasonAssignmentFailed}})
	if err != nil {
		r.log.Error("fail call after lost assignment failed", "call_id", callID, "agent_id", agentID, "cause", cause, "err", err)
		return
	}
	r.log.Warn("call failed after lost assignment", "call_id", callID, "agent_id", agentID, "cause", cause)
	if c.ProviderCallID == "" {
		return
	}
	if err := r.provider.Hangup(ctx, c.ProviderCallID); err != nil {
		r.log.Warn("hangup after lost assignment failed", "call_id", callID, "provider_call_id", c.ProviderCallID, "err", err)
	}
}

// RouteInbound registers a new inbound call and decides where it goes: straight to the
// longest-idle agent, or into the number's queue. A redelivered voice webhook for a
// known provider call returns the decision for the call's current state.
func (r *Router) RouteInbound(ctx context.Context, req telephony.InboundCallRequest) (Decision, error) {
	route, ok := r.numbers[req.To]
	if !ok {
		r.log.Warn("inbound call to unknown number", "to", req.To, "provider_call_id", req.ProviderCallID)
		return Decision{Action: ActionReject, Reason: "unknown_number"}, nil
	}

	c, err := r.calls.Create(ctx, calls.Call{
		WorkspaceID:    route.WorkspaceID,
		Direction:      calls.DirectionInbound,
		From:           req.From,
		To:             req.To,
		ProviderCallID: req.ProviderCallID,
		StartTime:      req.OccurredAt,
		Metadata:       map[string]string{calls.MetaQueueID: route.QueueID},
	})
	if errors.Is(err, calls.ErrDuplicateProviderCall) {
		existing, gerr := r.calls.GetByProviderCallID(ctx, req.ProviderCallID)
		if gerr != nil {
			return Decision{}, gerr
		}
		return r.current(ctx, existing, route)
	}
	if err != nil {
		return Decision{}, err
	}
	return r.dispatch(ctx, c, route)
}

// RouteAnswered decides what an answered outbound call connects to. Calls placed on
// behalf of an agent go to that agent; campaign calls are routed like inbound ones.
func (r *Router) RouteAnswered(ctx context.Context, providerCallID string) (Decision, error) {
	c, err := r.calls.GetByProviderCallID(ctx, providerCallID)
	if errors.Is(err, calls.ErrNotFound) {
		r.log.Warn("answered call is unknown", "provider_call_id", providerCallID)
		return Decision{Action: ActionHangup, Reason: "unknown_call"}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	c, err = r.calls.Apply(ctx, c.ID, calls.Event{Type: calls.EventAnswered})
	if err != nil {
		return Decision{}, err
	}

	if c.Status == calls.StatusRinging {
		holder, err := r.agents.FindByCall(ctx, c.ID)
		switch {
		case err == nil:
			return r.connectHolder(ctx, c, holder)
		case !errors.Is(err, agents.ErrNotFound):
			return Decision{}, err
		}
	}

	route := NumberRoute{WorkspaceID: c.WorkspaceID, QueueID: c.Metadata[calls.MetaQueueID]}
	if route.QueueID == "" {
		if ids := r.queues.QueueIDs(c.WorkspaceID); len(ids) > 0 {
			route.QueueID = ids[0]
		}
	}
	if c.Status != calls.StatusRinging {
		return r.current(ctx, c, route)
	}
	return r.dispatch(ctx, c, route)
}

// connectHolder completes an agent-initiated call: the agent reserved at placement
// is on the line as soon as the callee answers.
func (r *Router) connectHolder(ctx context.Context, c calls.Call, holder agents.Agent) (Decision, error) {
	c, err := r.calls.Do(ctx, c.ID, func(sess *calls.Session) error {
		if _, err := sess.Apply(calls.Event{Type: calls.EventAssign, Payload: calls.Payload{AgentID: holder.ID}}); err != nil {
			return err
		}
		_, err := sess.Apply(calls.Event{Type: calls.EventConnect})
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		WorkspaceID: c.WorkspaceID,
		CallID:      c.ID,
		Action:      ActionConnect,
		AgentID:     holder.ID,
		ConnectTo:   holder.Endpoint,
		Reason:      "agent_initiated",
	}, nil
}

func (r *Router) dispatch(ctx context.Context, c calls.Call, route NumberRoute) (Decision, error) {
	cfg, ok := r.queues.Config(route.QueueID)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", queue.ErrUnknownQueue, route.QueueID)
	}

	a, err := r.assign(ctx, c.ID, route.WorkspaceID, cfg.Skills)
	if err == nil {
		r.log.Info("call routed to agent", "call_id", c.ID, "agent_id", a.ID, "client_ip", audit.ActorFrom(ctx).IP)
		return Decision{
			WorkspaceID: route.WorkspaceID,
			CallID:      c.ID,
			Action:      ActionConnect,
			AgentID:     a.ID,
			ConnectTo:   a.Endpoint,
			Reason:      "agent_available",
		}, nil
	}
	if !errors.Is(err, errNoAgent) {
		return Decision{}, err
	}
	return r.enqueue(ctx, c, route, cfg)
}

func (r *Router) enqueue(ctx context.Context, c calls.Call, route NumberRoute, cfg queue.Config) (Decision, error) {
	p := cfg.Priority
	if route.Priority != nil {
		p = *route.Priority
	}
	c, err := r.calls.Apply(ctx, c.ID, calls.Event{
		Type:    calls.EventQueue,
		Payload: calls.Payload{QueueID: cfg.ID, Priority: int(p)},
	})
	if err != nil {
		return Decision{}, err
	}
	if c.Status != calls.StatusQueued {
		return r.current(ctx, c, route)
	}
	e, err := r.queues.Enqueue(cfg.ID, c.ID, &p, *c.EnqueuedAt)
	if err != nil {
		return Decision{}, err
	}
	r.refreshOnDuty(ctx, route.WorkspaceID)
	// An agent freed after assign looked found an empty queue and drained nothing.
	if r.Drain(ctx, route.WorkspaceID) > 0 {
		latest, err := r.calls.Get(ctx, c.ID)
		if err == nil && latest.Status != calls.StatusQueued {
			return r.current(ctx, latest, route)
		}
	}
	if cur, ok := r.queues.Lookup(c.ID); ok {
		e = cur
	}
	r.log.Info("call queued", "call_id", c.ID, "queue_id", cfg.ID, "position", e.Position, "estimated_wait", e.EstimatedWait)
	return Decision{
		WorkspaceID: route.WorkspaceID,
		CallID:      c.ID,
		Action:      ActionEnqueue,
		QueueID:     cfg.ID,
		Position:    e.Position,
		Message:     cfg.HoldMessage,
		Reason:      "no_agent_available",
	}, nil
}

// current describes a call that was already routed.
func (r *Router) current(ctx context.Context, c calls.Call, route NumberRoute) (Decision, error) {
	d := Decision{WorkspaceID: c.WorkspaceID, CallID: c.ID}
	switch {
	case c.Status.Terminal():
		d.Action = ActionHangup
		d.Reason = "call_ended"
	case c.Status == calls.StatusQueued:
		d.Action = ActionEnqueue
		d.QueueID = c.QueueID
		if e, ok := r.queues.Lookup(c.ID); ok {
			d.Position = e.Position
		}
		if cfg, ok := r.queues.Config(c.QueueID); ok {
			d.Message = cfg.HoldMessage
		}
	case c.AgentID != "":
		a, err := r.agents.Get(ctx, c.AgentID)
		if err != nil {
			return Decision{}, err
		}
		d.Action = ActionConnect
		d.AgentID = a.ID
		d.ConnectTo = a.Endpoint
	default:
		return r.dispatch(ctx, c, route)
	}
	return d, nil
}

// assign reserves the best available agent for callID and moves the call to ASSIGNED
// in the same unit of work.
func (r *Router) assign(ctx context.Context, callID, workspaceID string, skills []string) (agents.Agent, error) {
	for attempt := 0; attempt < r.attempts; attempt++ {
		cands, err := r.candidates(ctx, workspaceID, skills)
		if err != nil {
			return agents.Agent{}, err
		}
		if len(cands) == 0 {
			return agents.Agent{}, errNoAgent
		}
		for _, cand := range cands {
			a, err := r.agents.Reserve(ctx, cand.ID, callID, r.assignCall(callID))
			switch {
			case err == nil:
				return a, nil
			case errors.Is(err, agents.ErrNotAvailable):
				continue
			default:
				return agents.Agent{}, err
			}
		}
	}
	return agents.Agent{}, errNoAgent
}

func (r *Router) assignCall(callID string) func(ctx context.Context, a agents.Agent) error {
	return func(ctx context.Context, a agents.Agent) error {
		_, err := r.calls.Apply(ctx, callID, calls.Event{Type: calls.EventAssign, Payload: calls.Payload{AgentID: a.ID}})
		return err
	}
}

// candidates lists available agents with the given skills, best first: longest idle,
// then least loaded, then earliest registered.
func (r *Router) candidates(ctx context.Context, workspaceID string, skills []string) ([]agents.Agent, error) {
	list, err := r.agents.ListAvailable(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, a := range list {
		if a.HasSkills(skills) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.AvailableSince.Equal(b.AvailableSince) {
			return a.AvailableSince.Before(b.AvailableSince)
		}
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// AgentAvailable serves waiting calls when an agent frees up.
func (r *Router) AgentAvailable(ctx context.Context, a agents.Agent) {
	r.refreshOnDuty(ctx, a.WorkspaceID)
	r.Drain(ctx, a.WorkspaceID)
}

type serveResult int

const (
	served serveResult = iota
	// stale: the entry's call left the queue on its own; try the next entry.
	stale
	// agentLost: the agent was claimed elsewhere; the entry went back in place.
	agentLost
)

// Drain hands queued calls of a workspace to its available agents and returns how
// many calls were assigned.
func (r *Router) Drain(ctx context.Context, workspaceID string) int {
	ids := r.queues.QueueIDs(workspaceID)
	if len(ids) == 0 {
		return 0
	}
	cands, err := r.candidates(ctx, workspaceID, nil)
	if err != nil {
		r.log.Error("list available agents failed", "workspace_id", workspaceID, "err", err)
		return 0
	}
	n := 0
	for _, a := range cands {
		eligible := r.eligibleQueues(ids, a)
		for {
			e, ok := r.queues.DequeueBest(eligible)
			if !ok {
				break
			}
			res := r.serve(ctx, a, e)
			if res == stale {
				continue
			}
			if res == served {
				n++
			}
			break
		}
	}
	return n
}

func (r *Router) eligibleQueues(ids []string, a agents.Agent) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		cfg, ok := r.queues.Config(id)
		if ok && a.HasSkills(cfg.Skills) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) serve(ctx context.Context, a agents.Agent, e queue.Entry) serveResult {
	var assigned calls.Call
	_, err := r.agents.Reserve(ctx, a.ID, e.CallID, func(ctx context.Context, got agents.Agent) error {
		c, err := r.calls.Apply(ctx, e.CallID, calls.Event{Type: calls.EventAssign, Payload: calls.Payload{AgentID: got.ID}})
		assigned = c
		return err
	})
	switch {
	case err == nil:
	case calls.IsStateError(err) || errors.Is(err, calls.ErrNotFound):
		r.log.Debug("dropping stale queue entry", "call_id", e.CallID, "queue_id", e.QueueID, "err", err)
		return stale
	default:
		if !errors.Is(err, agents.ErrNotAvailable) {
			r.log.Error("reserve agent for queued call failed", "call_id", e.CallID, "agent_id", a.ID, "err", err)
		}
		if rerr := r.queues.Requeue(e); rerr != nil {
			r.log.Error("requeue failed", "call_id", e.CallID, "queue_id", e.QueueID, "err", rerr)
		}
		return agentLost
	}

	r.log.Info("queued call assigned", "call_id", e.CallID, "queue_id", e.QueueID, "agent_id", a.ID, "waited", r.clock().Sub(e.EnqueuedAt))
	if err := r.provider.Transfer(ctx, assigned.ProviderCallID, a.Endpoint); err != nil {
		r.log.Error("connect queued call failed", "call_id", e.CallID, "agent_id", a.ID, "err", err)
		if _, ferr := r.calls.Apply(ctx, e.CallID, calls.Event{Type: calls.EventFail, Payload: calls.Payload{Reason: calls.ReasonProviderFailed}}); ferr != nil {
			r.log.Error("fail call after connect error", "call_id", e.CallID, "err", ferr)
		}
	}
	return served
}

// SweepTimeouts fails calls that waited past their queue's timeout and hangs them up.
func (r *Router) SweepTimeouts(ctx context.Context) int {
	n := 0
	for _, e := range r.queues.ExpireTimedOut(r.clock()) {
		c, err := r.calls.Apply(ctx, e.CallID, calls.Event{Type: calls.EventQueueTimeout})
		if err != nil {
			if calls.IsStateError(err) || errors.Is(err, calls.ErrNotFound) {
				r.log.Debug("expired entry already left the queue", "call_id", e.CallID, "err", err)
			} else {
				r.log.Error("queue timeout failed", "call_id", e.CallID, "err", err)
			}
			continue
		}
		n++
		if c.ProviderCallID == "" {
			continue
		}
		if err := r.provider.Hangup(ctx, c.ProviderCallID); err != nil {
			r.log.Warn("hangup after queue timeout failed", "call_id", c.ID, "provider_call_id", c.ProviderCallID, "err", err)
		}
	}
	return n
}

// Sweep expires timed-out entries and then serves every workspace with routed numbers.
func (r *Router) Sweep(ctx context.Context) {
	if n := r.SweepTimeouts(ctx); n > 0 {
		r.log.Info("queue timeouts swept", "count", n)
	}
	for _, ws := range r.workspaces() {
		r.refreshOnDuty(ctx, ws)
		r.Drain(ctx, ws)
	}
}

// Rebuild reloads queue contents from QUEUED calls after a restart.
func (r *Router) Rebuild(ctx context.Context) error {
	queued, err := r.calls.ListByStatus(ctx, calls.StatusQueued)
	if err != nil {
		return err
	}
	entries := make([]queue.Entry, 0, len(queued))
	for _, c := range queued {
		e := queue.Entry{CallID: c.ID, QueueID: c.QueueID, Priority: queue.Priority(c.Priority), EnqueuedAt: c.CreatedAt}
		if c.EnqueuedAt != nil {
			e.EnqueuedAt = *c.EnqueuedAt
		}
		entries = append(entries, e)
	}
	for _, e := range r.queues.Rebuild(entries) {
		r.log.Warn("queued call references unknown queue", "call_id", e.CallID, "queue_id", e.QueueID)
	}
	r.log.Info("queues rebuilt", "entries", len(entries))
	return nil
}

// CallChanged releases agents and queue slots held by calls that ended.
func (r *Router) CallChanged(ctx context.Context, ch calls.Change) {
	if !ch.Next.Status.Terminal() || ch.Prev.Status.Terminal() {
		return
	}
	c := ch.Next
	if ch.Prev.Status == calls.StatusQueued {
		r.queues.Remove(c.ID)
		if r.abandon != nil {
			if err := r.abandon.LogAbandoned(ctx, c.WorkspaceID, c.ID, c.QueueID, c.FailureReason); err != nil {
				r.log.Warn("audit abandoned call failed", "call_id", c.ID, "err", err)
			}
		}
	}
	if c.Status == calls.StatusCompleted {
		qid := c.QueueID
		if qid == "" {
			qid = c.Metadata[calls.MetaQueueID]
		}
		if d := c.HandleTime(); d > 0 && qid != "" {
			r.queues.RecordHandleTime(qid, d)
		}
	}
	if _, _, err := r.agents.ReleaseCall(ctx, c.ID); err != nil {
		r.log.Error("release agent for ended call failed", "call_id", c.ID, "err", err)
	}
	r.refreshOnDuty(ctx, c.WorkspaceID)
}

func (r *Router) refreshOnDuty(ctx context.Context, workspaceID string) {
	n, err := r.agents.CountOnDuty(ctx, workspaceID)
	if err != nil {
		r.log.Warn("count on-duty agents failed", "workspace_id", workspaceID, "err", err)
		return
	}
	r.queues.SetOnDuty(workspaceID, n)
}

func (r *Router) workspaces() []string {
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, route := range r.numbers {
		if !seen[route.WorkspaceID] {
			seen[route.WorkspaceID] = true
			out = append(out, route.WorkspaceID)
		}
	}
	sort.Strings(out)
	return out
}
