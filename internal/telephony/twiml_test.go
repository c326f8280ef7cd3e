package telephony

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTwiMLReject(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{WorkspaceID: "w", Action: InboundCallActionReject})
	require.NoError(t, err)
	assert.Contains(t, xml, "<Reject")
}

func TestRenderTwiMLConnectRequiresTarget(t *testing.T) {
	_, err := RenderTwiML(InboundCallResult{WorkspaceID: "w", Action: InboundCallActionConnect})
	assert.Error(t, err)
}

func TestRenderTwiMLConnectClient(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionConnect, ConnectTo: "client:agent-1"})
	require.NoError(t, err)
	assert.Contains(t, xml, "<Client>agent-1</Client>")
}

func TestRenderTwiMLEnqueueSaysMessageFirst(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionEnqueue, QueueID: "support", Message: "Please hold"})
	require.NoError(t, err)
	say := strings.Index(xml, "<Say>Please hold</Say>")
	enq := strings.Index(xml, "<Enqueue>support</Enqueue>")
	require.GreaterOrEqual(t, say, 0, xml)
	require.GreaterOrEqual(t, enq, 0, xml)
	assert.Less(t, say, enq, "Say before Enqueue")
}

func TestRenderDialNumberIsNormalized(t *testing.T) {
	d, err := dialTarget("+1 (555) 123-4567")
	require.NoError(t, err)
	xml, err := RenderDial(d)
	require.NoError(t, err)
	assert.Contains(t, xml, "<Number>+15551234567</Number>")
}
