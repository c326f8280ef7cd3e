package queue

import "time"

// Priority orders entries across tiers; higher dequeues first.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityVIP    Priority = 10
)

// Entry is one waiting call.
type Entry struct {
	CallID      string    `json:"call_id"`
	QueueID     string    `json:"queue_id"`
	WorkspaceID string    `json:"workspace_id"`
	Priority    Priority  `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueued_at"`

	// Position is 1-based and recomputed on every enqueue, dequeue and timeout.
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`

	seq uint64
}

// before reports whether e dequeues ahead of o.
func (e Entry) before(o Entry) bool {
	if e.Priority != o.Priority {
		return e.Priority > o.Priority
	}
	if !e.EnqueuedAt.Equal(o.EnqueuedAt) {
		return e.EnqueuedAt.Before(o.EnqueuedAt)
	}
	return e.seq < o.seq
}

// Config is the per-queue policy.
type Config struct {
	ID          string
	WorkspaceID string
	Priority    Priority
	// Timeout abandons entries waiting longer than this.
	Timeout time.Duration
	// MaxWait clamps EstimatedWait.
	MaxWait time.Duration
	// InitialHandleTime seeds the handle-time average before any call completes.
	InitialHandleTime time.Duration
	HoldMessage       string

	// Skills an agent needs to take calls from this queue.
	Skills []string
}

const (
	DefaultTimeout    = 300 * time.Second
	DefaultHandleTime = 180 * time.Second
	// ewmaAlpha weights the newest handle time in the moving average.
	ewmaAlpha = 0.2
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxWait <= 0 {
		c.MaxWait = c.Timeout
	}
	if c.InitialHandleTime <= 0 {
		c.InitialHandleTime = DefaultHandleTime
	}
	return c
}
