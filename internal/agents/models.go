package agents

import "time"

// Agent is a call-center operator who can be assigned calls.
//
// Invariants:
// - CurrentCallID is set iff Status is BUSY.
// - At most one Agent holds a given call id.
// - PendingStatus is only set while BUSY.
type Agent struct {
	ID          string `json:"agent_id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Name        string `json:"name,omitempty" db:"name"`

	Status Status `json:"status" db:"status"`
	// PendingStatus is ON_BREAK or OFFLINE requested while busy; applied on release.
	PendingStatus Status `json:"pending_status,omitempty" db:"pending_status"`

	CurrentCallID string   `json:"current_call_id,omitempty" db:"current_call_id"`
	Skills        []string `json:"skills,omitempty" db:"skills"`

	// Endpoint is the dial target for this agent: "client:<identity>" or a SIP URI.
	Endpoint string `json:"endpoint" db:"endpoint"`

	// AvailableSince is when the agent last became AVAILABLE; older means idle longer.
	AvailableSince time.Time `json:"available_since" db:"available_since"`
	// Load counts calls handled since registration.
	Load         int       `json:"load" db:"load"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`

	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOnBreak   Status = "on_break"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOnBreak, StatusOffline:
		return true
	}
	return false
}

// Away reports whether s takes the agent out of rotation.
func (s Status) Away() bool { return s == StatusOnBreak || s == StatusOffline }

func (a Agent) clone() Agent {
	if a.Skills != nil {
		a.Skills = append([]string(nil), a.Skills...)
	}
	return a
}

// HasSkills reports whether the agent has every skill in required.
func (a Agent) HasSkills(required []string) bool {
	for _, r := range required {
		found := false
		for _, s := range a.Skills {
			if s == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
