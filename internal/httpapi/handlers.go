package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/control"
	"callcenter/internal/dialer"
	"callcenter/internal/rbac"
	"callcenter/internal/reporting"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Control *control.Service
	Dialer  *dialer.Dialer
	Reports *reporting.Service
	Audit   *audit.Service

	// AllowLogin enables the development token endpoint.
	AllowLogin bool
	Now        func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Role        string `json:"role" binding:"required"`
	AgentID     string `json:"agent_id"`
}

// Login issues a JWT token pair.
//
// NOTE: Development only. Real deployments issue tokens from their identity provider.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "login disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Role:        req.Role,
		AgentID:     req.AgentID,
	})
	if err != nil {
		if errors.Is(err, auth.ErrMissingClaim) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller identity.
func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "workspace_id": id.WorkspaceID, "role": id.Role, "agent_id": id.AgentID})
}

// requestContext carries the caller into call control for audit records and logs.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	id, _ := auth.IdentityFrom(ctx)
	ctx = audit.WithActor(ctx, audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()})
	return logger.With(ctx, logger.FromGin(c))
}

func identity(c *gin.Context) auth.Identity {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return id
}

// sameWorkspace hides other tenants' records; super_admin sees everything.
func sameWorkspace(id auth.Identity, workspaceID string) bool {
	return rbac.IsSuperAdmin(id.Role) || id.WorkspaceID == workspaceID
}
