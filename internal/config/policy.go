package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Policy is the routing and campaign policy loaded from POLICY_FILE.
type Policy struct {
	Queues    []QueuePolicy    `yaml:"queues" validate:"required,min=1,dive"`
	Numbers   []NumberPolicy   `yaml:"numbers" validate:"dive"`
	Campaigns []CampaignPolicy `yaml:"campaigns" validate:"dive"`
}

type QueuePolicy struct {
	ID          string `yaml:"id" validate:"required"`
	WorkspaceID string `yaml:"workspace_id" validate:"required"`
	// VIP places every call of this queue in the high priority tier.
	VIP               bool          `yaml:"vip"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxWait           time.Duration `yaml:"max_wait" validate:"gte=0"`
	InitialHandleTime time.Duration `yaml:"initial_handle_time" validate:"gte=0"`
	HoldMessage       string        `yaml:"hold_message"`
	Skills            []string      `yaml:"skills"`
}

type NumberPolicy struct {
	Number      string `yaml:"number" validate:"required,e164"`
	WorkspaceID string `yaml:"workspace_id" validate:"required"`
	QueueID     string `yaml:"queue_id" validate:"required"`
	VIP         bool   `yaml:"vip"`
}

type CampaignPolicy struct {
	ID                 string        `yaml:"id" validate:"required"`
	WorkspaceID        string        `yaml:"workspace_id" validate:"required"`
	FromNumber         string        `yaml:"from_number" validate:"required,e164"`
	QueueID            string        `yaml:"queue_id" validate:"required"`
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls" validate:"gte=1"`
	MaxAttempts        int           `yaml:"max_attempts" validate:"gte=1"`
	RetryDelay         time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Cooldown           time.Duration `yaml:"cooldown" validate:"gte=0"`
	// Window is the local dialing window as "HH:MM"; empty means always.
	WindowStart string `yaml:"window_start" validate:"omitempty,datetime=15:04"`
	WindowEnd   string `yaml:"window_end" validate:"omitempty,datetime=15:04"`
	Paused      bool   `yaml:"paused"`
}

// LoadPolicy reads and validates the policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		errs := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			errs = append(errs, errors.New(fieldMessage(fe)))
		}
		return joinErrors(errs)
	}

	var errs []error
	queues := map[string]QueuePolicy{}
	for _, q := range p.Queues {
		if _, dup := queues[q.ID]; dup {
			errs = append(errs, fmt.Errorf("queue %q is defined twice", q.ID))
		}
		queues[q.ID] = q
	}
	numbers := map[string]bool{}
	for _, n := range p.Numbers {
		if numbers[n.Number] {
			errs = append(errs, fmt.Errorf("number %s is routed twice", n.Number))
		}
		numbers[n.Number] = true
		q, ok := queues[n.QueueID]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("number %s routes to unknown queue %q", n.Number, n.QueueID))
		case q.WorkspaceID != n.WorkspaceID:
			errs = append(errs, fmt.Errorf("number %s and queue %q belong to different workspaces", n.Number, n.QueueID))
		}
	}
	campaigns := map[string]bool{}
	for _, c := range p.Campaigns {
		if campaigns[c.ID] {
			errs = append(errs, fmt.Errorf("campaign %q is defined twice", c.ID))
		}
		campaigns[c.ID] = true
		if q, ok := queues[c.QueueID]; !ok || q.WorkspaceID != c.WorkspaceID {
			errs = append(errs, fmt.Errorf("campaign %q uses unknown queue %q", c.ID, c.QueueID))
		}
		if (c.WindowStart == "") != (c.WindowEnd == "") {
			errs = append(errs, fmt.Errorf("campaign %q needs both window_start and window_end", c.ID))
		}
	}
	return joinErrors(errs)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Policy.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must have at least " + fe.Param() + " entries"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "e164":
		return field + " must be an E.164 number"
	case "datetime":
		return field + " must be a time of day as HH:MM"
	default:
		return field + " is invalid"
	}
}
