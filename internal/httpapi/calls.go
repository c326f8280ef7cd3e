package httpapi

import (
	"context"
	"net/http"

	"callcenter/internal/calls"
	"callcenter/internal/control"
	"callcenter/internal/rbac"

	"github.com/gin-gonic/gin"
)

type placeCallRequest struct {
	AgentID string `json:"agent_id"`
	To      string `json:"to" binding:"required"`
	From    string `json:"from"`
}

// PlaceCall dials a number for an agent. Agents always dial as themselves.
func (h Handlers) PlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to required"})
		return
	}
	id := identity(c)
	if !rbac.CanSupervise(id.Role) || req.AgentID == "" {
		req.AgentID = id.AgentID
	}
	if req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	ctx := requestContext(c)
	a, err := h.Control.Agent(ctx, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !sameWorkspace(id, a.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	call, err := h.Control.PlaceOutbound(ctx, control.OutboundRequest{AgentID: req.AgentID, To: req.To, From: req.From})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

// loadCall resolves :call_id and checks the caller may act on it: same workspace, and
// for agents, only the call they hold (or placed, while it is still dialing).
func (h Handlers) loadCall(c *gin.Context) (calls.Call, bool) {
	call, err := h.Control.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return calls.Call{}, false
	}
	id := identity(c)
	if !sameWorkspace(id, call.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return calls.Call{}, false
	}
	if rbac.CanSupervise(id.Role) {
		return call, true
	}
	if id.AgentID == "" || (call.AgentID != id.AgentID && call.Metadata["placed_by"] != id.AgentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return calls.Call{}, false
	}
	return call, true
}

// callAction adapts a call-control operation into a handler.
func (h Handlers) callAction(op func(s *control.Service, ctx context.Context, callID string) (calls.Call, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ok := h.loadCall(c)
		if !ok {
			return
		}
		out, err := op(h.Control, requestContext(c), call.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h Handlers) Hangup() gin.HandlerFunc { return h.callAction((*control.Service).Hangup) }
func (h Handlers) Hold() gin.HandlerFunc { return h.callAction((*control.Service).Hold) }
func (h Handlers) Unhold() gin.HandlerFunc { return h.callAction((*control.Service).Unhold) }
func (h Handlers) Mute() gin.HandlerFunc { return h.callAction((*control.Service).Mute) }
func (h Handlers) Unmute() gin.HandlerFunc { return h.callAction((*control.Service).Unmute) }

func (h Handlers) StartRecording() gin.HandlerFunc {
	return h.callAction((*control.Service).StartRecording)
}

func (h Handlers) StopRecording() gin.HandlerFunc {
	return h.callAction((*control.Service).StopRecording)
}

// Accept connects the assigned agent. Supervisors may accept on an agent's behalf.
func (h Handlers) Accept(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	agentID := identity(c).AgentID
	if rbac.CanSupervise(identity(c).Role) {
		agentID = ""
	}
	out, err := h.Control.Accept(requestContext(c), call.ID, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type transferRequest struct {
	AgentID string `json:"agent_id"`
	Number  string `json:"number"`
}

func (h Handlers) Transfer(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Control.ColdTransfer(requestContext(c), call.ID, control.TransferRequest{AgentID: req.AgentID, Number: req.Number})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) WarmTransfer(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	out, err := h.Control.WarmTransfer(requestContext(c), call.ID, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type consentRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

func (h Handlers) SetConsent(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "granted required"})
		return
	}
	out, err := h.Control.SetConsent(requestContext(c), call.ID, *req.Granted)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
