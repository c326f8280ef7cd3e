package httpapi

import (
	"errors"
	"net/http"

	"callcenter/internal/agents"
	"callcenter/internal/rbac"

	"github.com/gin-gonic/gin"
)

type registerAgentRequest struct {
	AgentID  string   `json:"agent_id"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	Skills   []string `json:"skills"`
}

// RegisterAgent logs an agent in to the caller's workspace. Agents register themselves;
// supervisors may register anyone.
func (h Handlers) RegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := identity(c)
	if !rbac.CanSupervise(id.Role) {
		if req.AgentID != "" && req.AgentID != id.AgentID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		req.AgentID = id.AgentID
	}
	if req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	if req.Endpoint == "" {
		req.Endpoint = req.AgentID
	}

	ctx := requestContext(c)
	existing, err := h.Control.Agent(ctx, req.AgentID)
	switch {
	case err == nil && existing.WorkspaceID != id.WorkspaceID:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent_id is taken"})
		return
	case err != nil && !errors.Is(err, agents.ErrNotFound):
		writeError(c, err)
		return
	}

	a, err := h.Control.RegisterAgent(ctx, agents.Agent{
		ID:          req.AgentID,
		WorkspaceID: id.WorkspaceID,
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Skills:      req.Skills,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) GetAgent(c *gin.Context) {
	a, err := h.Control.Agent(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !sameWorkspace(identity(c), a.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

type agentStatusRequest struct {
	Status   agents.Status `json:"status" binding:"required"`
	Force    bool          `json:"force"`
	WhenFree bool          `json:"when_free"`
}

// SetAgentStatus changes availability. Only supervisors may force an agent off a live call.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	var req agentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	id := identity(c)
	if req.Force && !rbac.CanSupervise(id.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "force requires a supervisor"})
		return
	}

	ctx := requestContext(c)
	a, err := h.Control.Agent(ctx, c.Param("agent_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !sameWorkspace(id, a.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	ch, err := h.Control.SetAgentStatus(ctx, a.ID, req.Status, agents.SetStatusOptions{Force: req.Force, WhenFree: req.WhenFree})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent":            ch.Agent,
		"deferred":         ch.Deferred,
		"released_call_id": ch.ReleasedCallID,
	})
}
