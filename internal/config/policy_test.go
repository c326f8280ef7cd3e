package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
queues:
  - id: support
    workspace_id: acme
    timeout: 5m
    hold_message: "All agents are busy."
  - id: vip
    workspace_id: acme
    vip: true
    skills: [priority]
numbers:
  - number: "+15550001111"
    workspace_id: acme
    queue_id: support
campaigns:
  - id: renewals
    workspace_id: acme
    from_number: "+15550001111"
    queue_id: support
    max_concurrent_calls: 3
    max_attempts: 2
    retry_delay: 30m
    window_start: "09:00"
    window_end: "18:00"
`

func TestParsePolicy_Valid(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	require.Len(t, p.Queues, 2)
	assert.Equal(t, 5*time.Minute, p.Queues[0].Timeout)
	assert.True(t, p.Queues[1].VIP)
	assert.Equal(t, []string{"priority"}, p.Queues[1].Skills)

	require.Len(t, p.Campaigns, 1)
	c := p.Campaigns[0]
	assert.Equal(t, 3, c.MaxConcurrentCalls)
	assert.Equal(t, 30*time.Minute, c.RetryDelay)
	assert.Equal(t, "09:00", c.WindowStart)
}

func TestParsePolicy_TagErrors(t *testing.T) {
	_, err := ParsePolicy([]byte(`
queues:
  - id: support
numbers:
  - number: "5550001111"
    workspace_id: acme
    queue_id: support
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Queues[0].WorkspaceID is required")
	assert.Contains(t, err.Error(), "Numbers[0].Number must be an E.164 number")
}

func TestParsePolicy_CrossReferences(t *testing.T) {
	_, err := ParsePolicy([]byte(`
queues:
  - id: support
    workspace_id: acme
numbers:
  - number: "+15550001111"
    workspace_id: other
    queue_id: support
campaigns:
  - id: renewals
    workspace_id: acme
    from_number: "+15550001111"
    queue_id: missing
    max_concurrent_calls: 1
    max_attempts: 1
    window_start: "09:00"
`))
	require.Error(t, err)
	for _, want := range []string{"different workspaces", "unknown queue \"missing\"", "needs both window_start and window_end"} {
		assert.Contains(t, err.Error(), want)
	}
}
