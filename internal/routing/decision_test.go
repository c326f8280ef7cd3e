package routing

import (
	"context"
	"testing"

	"callcenter/internal/metrics"
	"callcenter/internal/telephony"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionResult_MapsActions(t *testing.T) {
	res, err := Decision{WorkspaceID: "w", Action: ActionEnqueue, QueueID: "support", Position: 2, Message: "hold"}.Result()
	require.NoError(t, err)
	assert.Equal(t, telephony.InboundCallActionEnqueue, res.Action)
	assert.Equal(t, "support", res.QueueID)
	assert.Equal(t, "hold", res.Message)
	assert.Empty(t, res.ConnectTo)

	res, err = Decision{Action: ActionConnect, AgentID: "a1", ConnectTo: "client:a1", QueueID: "stale"}.Result()
	require.NoError(t, err)
	assert.Equal(t, telephony.InboundCallActionConnect, res.Action)
	assert.Equal(t, "client:a1", res.ConnectTo)
	assert.Empty(t, res.QueueID)

	_, err = Decision{Action: "bogus"}.Result()
	assert.Error(t, err)
}

func TestRouteInboundCall_CountsDecision(t *testing.T) {
	f := newFixture(t)
	counter := metrics.RoutingDecisions.WithLabelValues(string(ActionReject), "unknown_number")
	before := testutil.ToFloat64(counter)

	res, err := f.router.RouteInboundCall(context.Background(), telephony.InboundCallRequest{ProviderCallID: "CA9", To: "+15559999999"})
	require.NoError(t, err)
	assert.Equal(t, telephony.InboundCallActionReject, res.Action)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
