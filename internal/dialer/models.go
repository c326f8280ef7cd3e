package dialer

import (
	"fmt"
	"time"
)

type ContactStatus string

const (
	ContactPending    ContactStatus = "pending"
	ContactInProgress ContactStatus = "in_progress"
	ContactExhausted  ContactStatus = "exhausted"
	ContactCompleted  ContactStatus = "completed"
)

// Contact is one campaign dialing target.
//
// A contact is IN_PROGRESS exactly while its LastCallID is non-terminal; that status is
// the per-contact dialing lock.
type Contact struct {
	ID          string `json:"contact_id" db:"id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Phone       string `json:"phone" db:"phone"`
	// Timezone is an IANA zone name used for the dialing window; empty means UTC.
	Timezone string `json:"timezone,omitempty" db:"timezone"`

	Status        ContactStatus `json:"status" db:"status"`
	Attempts      int           `json:"attempts" db:"attempts"`
	LastAttempt   *time.Time    `json:"last_attempt,omitempty" db:"last_attempt"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	LastCallID    string        `json:"last_call_id,omitempty" db:"last_call_id"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (c Contact) clone() Contact {
	if c.LastAttempt != nil {
		v := *c.LastAttempt
		c.LastAttempt = &v
	}
	if c.NextAttemptAt != nil {
		v := *c.NextAttemptAt
		c.NextAttemptAt = &v
	}
	return c
}

// Campaign is the pacing and retry policy for a set of contacts.
type Campaign struct {
	ID          string
	WorkspaceID string
	// CallerID is the E.164 number outbound calls are placed from.
	CallerID string
	// QueueID receives answered calls when no agent is free.
	QueueID string

	MaxConcurrentCalls int
	MaxAttempts        int
	// Cooldown is the minimum gap between two attempts on one contact.
	Cooldown time.Duration
	// RetryDelay schedules the next attempt after a failed one.
	RetryDelay time.Duration
	Window     Window
	Active     bool
}

// Window is a daily dialing window in the contact's local time. The zero Window
// allows dialing at any time. End before Start wraps past midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// ParseWindow builds a Window from "HH:MM" bounds. Two empty bounds mean always.
func ParseWindow(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("dialer: bad time of day %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t falls inside the window, evaluated in t's location.
func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	offset := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	if w.Start < w.End {
		return offset >= w.Start && offset < w.End
	}
	return offset >= w.Start || offset < w.End
}
