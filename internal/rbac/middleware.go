package rbac

import (
	"net/http"

	"callcenter/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireWorkspace rejects tokens without a workspace. Every record is tenant scoped.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.WorkspaceID(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		c.Next()
	}
}

// Require lets the request through when the caller's role holds p.
func Require(p Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Can(role, p) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "permission": p})
			return
		}
		c.Next()
	}
}

// RequireSelfOrSupervisor lets agents act only on the agent id named by param; supervisors
// act on anyone in their workspace.
func RequireSelfOrSupervisor(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := auth.IdentityFrom(c.Request.Context())
		if CanSupervise(id.Role) || (id.AgentID != "" && id.AgentID == c.Param(param)) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
