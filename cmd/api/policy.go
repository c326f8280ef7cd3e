package main

import (
	"fmt"

	"callcenter/internal/config"
	"callcenter/internal/dialer"
	"callcenter/internal/queue"
	"callcenter/internal/routing"
)

// components turns the validated policy file into queue, routing and dialer settings.
type components struct {
	Queues    []queue.Config
	Numbers   map[string]routing.NumberRoute
	Campaigns []dialer.Campaign
}

func buildComponents(p config.Policy) (components, error) {
	out := components{Numbers: make(map[string]routing.NumberRoute, len(p.Numbers))}

	for _, q := range p.Queues {
		prio := queue.PriorityNormal
		if q.VIP {
			prio = queue.PriorityVIP
		}
		out.Queues = append(out.Queues, queue.Config{
			ID:                q.ID,
			WorkspaceID:       q.WorkspaceID,
			Priority:          prio,
			Timeout:           q.Timeout,
			MaxWait:           q.MaxWait,
			InitialHandleTime: q.InitialHandleTime,
			HoldMessage:       q.HoldMessage,
			Skills:            q.Skills,
		})
	}

	vip := queue.PriorityVIP
	for _, n := range p.Numbers {
		route := routing.NumberRoute{WorkspaceID: n.WorkspaceID, QueueID: n.QueueID}
		if n.VIP {
			route.Priority = &vip
		}
		out.Numbers[n.Number] = route
	}

	for _, c := range p.Campaigns {
		w, err := dialer.ParseWindow(c.WindowStart, c.WindowEnd)
		if err != nil {
			return components{}, fmt.Errorf("campaign %q: %w", c.ID, err)
		}
		out.Campaigns = append(out.Campaigns, dialer.Campaign{
			ID:                 c.ID,
			WorkspaceID:        c.WorkspaceID,
			CallerID:           c.FromNumber,
			QueueID:            c.QueueID,
			MaxConcurrentCalls: c.MaxConcurrentCalls,
			MaxAttempts:        c.MaxAttempts,
			Cooldown:           c.Cooldown,
			RetryDelay:         c.RetryDelay,
			Window:             w,
			Active:             !c.Paused,
		})
	}
	return out, nil
}
