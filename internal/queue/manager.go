package queue

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"callcenter/internal/metrics"
)

var (
	ErrUnknownQueue = errors.New("queue: unknown queue")
	ErrInvalidEntry = errors.New("queue: invalid entry")
)

type line struct {
	cfg       Config
	entries   []Entry
	avgHandle time.Duration
}

// Manager holds every queue in memory. Queue contents are derivable from QUEUED calls,
// so a restart calls Rebuild instead of persisting entries.
type Manager struct {
	mu    sync.Mutex
	lines map[string]*line
	index map[string]string // call id -> queue id
	seq   uint64
	// onDuty is the number of logged-in agents per workspace, fed by the router.
	onDuty map[string]int
	clock  func() time.Time
}

func NewManager(configs []Config) *Manager {
	m := &Manager{
		lines:  map[string]*line{},
		index:  map[string]string{},
		onDuty: map[string]int{},
		clock:  time.Now,
	}
	for _, c := range configs {
		c = c.withDefaults()
		m.lines[c.ID] = &line{cfg: c, avgHandle: c.InitialHandleTime}
	}
	return m
}

// SetClock replaces the time source; intended for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

func (m *Manager) Config(queueID string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[queueID]
	if !ok {
		return Config{}, false
	}
	return l.cfg, true
}

// QueueIDs returns the queues owned by workspaceID, sorted.
func (m *Manager) QueueIDs(workspaceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for id, l := range m.lines {
		if l.cfg.WorkspaceID == workspaceID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Enqueue appends callID to queueID and returns its entry. A call already waiting in the
// queue keeps its original place. Priority defaults to the queue's configured tier.
func (m *Manager) Enqueue(queueID, callID string, priority *Priority, at time.Time) (Entry, error) {
	if callID == "" {
		return Entry{}, ErrInvalidEntry
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[queueID]
	if !ok {
		return Entry{}, ErrUnknownQueue
	}
	if qid, ok := m.index[callID]; ok {
		if qid != queueID {
			return Entry{}, ErrInvalidEntry
		}
		return l.find(callID), nil
	}
	p := l.cfg.Priority
	if priority != nil {
		p = *priority
	}
	if at.IsZero() {
		at = m.clock()
	}
	m.seq++
	m.insert(l, Entry{CallID: callID, QueueID: queueID, WorkspaceID: l.cfg.WorkspaceID, Priority: p, EnqueuedAt: at.UTC(), seq: m.seq})
	return l.find(callID), nil
}

// Requeue puts back an entry popped by Dequeue without losing its place.
func (m *Manager) Requeue(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[e.QueueID]
	if !ok {
		return ErrUnknownQueue
	}
	if _, ok := m.index[e.CallID]; ok {
		return nil
	}
	m.insert(l, e)
	return nil
}

// Dequeue pops the head of queueID.
func (m *Manager) Dequeue(queueID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[queueID]
	if !ok || len(l.entries) == 0 {
		return Entry{}, false
	}
	return m.removeAt(l, 0), true
}

// DequeueBest pops the entry that should be served first across queueIDs: highest
// priority, then earliest enqueued.
func (m *Manager) DequeueBest(queueIDs []string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *line
	for _, id := range queueIDs {
		l, ok := m.lines[id]
		if !ok || len(l.entries) == 0 {
			continue
		}
		if best == nil || l.entries[0].before(best.entries[0]) {
			best = l
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return m.removeAt(best, 0), true
}

// Remove drops callID from whichever queue holds it.
func (m *Manager) Remove(callID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qid, ok := m.index[callID]
	if !ok {
		return Entry{}, false
	}
	l := m.lines[qid]
	for i := range l.entries {
		if l.entries[i].CallID == callID {
			return m.removeAt(l, i), true
		}
	}
	delete(m.index, callID)
	return Entry{}, false
}

// ExpireTimedOut removes and returns entries that have waited longer than their queue's timeout.
func (m *Manager) ExpireTimedOut(now time.Time) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, l := range m.lines {
		for i := 0; i < len(l.entries); {
			if now.Sub(l.entries[i].EnqueuedAt) >= l.cfg.Timeout {
				out = append(out, m.removeAt(l, i))
				continue
			}
			i++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

// Entries returns a snapshot of queueID in dequeue order.
func (m *Manager) Entries(queueID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[queueID]
	if !ok {
		return nil
	}
	return append([]Entry(nil), l.entries...)
}

func (m *Manager) Len(queueID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lines[queueID]; ok {
		return len(l.entries)
	}
	return 0
}

// Lookup returns the current entry for callID.
func (m *Manager) Lookup(callID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qid, ok := m.index[callID]
	if !ok {
		return Entry{}, false
	}
	e := m.lines[qid].find(callID)
	return e, e.CallID != ""
}

// RecordHandleTime feeds a completed call's handle time into the queue's moving average.
func (m *Manager) RecordHandleTime(queueID string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[queueID]
	if !ok {
		return
	}
	l.avgHandle = time.Duration(math.Round(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(l.avgHandle)))
	m.recompute(l)
}

// AverageHandleTime returns the queue's current moving average.
func (m *Manager) AverageHandleTime(queueID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lines[queueID]; ok {
		return l.avgHandle
	}
	return 0
}

// SetOnDuty records how many agents serve workspaceID and recomputes its estimated waits.
func (m *Manager) SetOnDuty(workspaceID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onDuty[workspaceID] == n {
		return
	}
	m.onDuty[workspaceID] = n
	for _, l := range m.lines {
		if l.cfg.WorkspaceID == workspaceID {
			m.recompute(l)
		}
	}
}

// Rebuild replaces queue contents with entries recovered from stored calls.
// Entries for unknown queues are skipped and returned.
func (m *Manager) Rebuild(entries []Entry) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lines {
		l.entries = nil
	}
	m.index = map[string]string{}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt) })

	var skipped []Entry
	for _, e := range sorted {
		l, ok := m.lines[e.QueueID]
		if !ok {
			skipped = append(skipped, e)
			continue
		}
		if _, dup := m.index[e.CallID]; dup {
			continue
		}
		m.seq++
		e.seq = m.seq
		e.WorkspaceID = l.cfg.WorkspaceID
		m.insert(l, e)
	}
	return skipped
}

func (m *Manager) insert(l *line, e Entry) {
	i := sort.Search(len(l.entries), func(i int) bool { return e.before(l.entries[i]) })
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	m.index[e.CallID] = l.cfg.ID
	m.recompute(l)
}

func (m *Manager) removeAt(l *line, i int) Entry {
	e := l.entries[i]
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	delete(m.index, e.CallID)
	m.recompute(l)
	return e
}

// recompute renumbers positions and estimated waits. Caller holds m.mu.
func (m *Manager) recompute(l *line) {
	staff := m.onDuty[l.cfg.WorkspaceID]
	for i := range l.entries {
		l.entries[i].Position = i + 1
		l.entries[i].EstimatedWait = estimate(l.avgHandle, i+1, staff, l.cfg.MaxWait)
	}
	metrics.QueueLength.WithLabelValues(l.cfg.ID).Set(float64(len(l.entries)))
}

// estimate is avgHandle × position ÷ staff, clamped to ceiling. staff counts on-duty
// agents (AVAILABLE plus BUSY) in the queue's workspace, not only idle ones, so the
// figure assumes every on-duty agent eventually takes from this queue. No staff means ceiling.
func estimate(avgHandle time.Duration, position, staff int, ceiling time.Duration) time.Duration {
	if staff <= 0 {
		return ceiling
	}
	w := time.Duration(float64(avgHandle) * float64(position) / float64(staff))
	if w > ceiling {
		return ceiling
	}
	return w
}

func (l *line) find(callID string) Entry {
	for _, e := range l.entries {
		if e.CallID == callID {
			return e
		}
	}
	return Entry{}
}
