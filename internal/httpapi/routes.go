package httpapi

import (
	"callcenter/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. The caller installs the token middleware.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.Use(rbac.RequireWorkspace())
	v1.GET("/me", h.Me)

	calls := v1.Group("/calls", rbac.Require(rbac.PermCallControl))
	{
		calls.POST("", h.PlaceCall)
		calls.GET("/:call_id", h.GetCall)
		calls.POST("/:call_id/accept", h.Accept)
		calls.POST("/:call_id/hangup", h.Hangup())
		calls.POST("/:call_id/hold", h.Hold())
		calls.POST("/:call_id/unhold", h.Unhold())
		calls.POST("/:call_id/mute", h.Mute())
		calls.POST("/:call_id/unmute", h.Unmute())
		calls.POST("/:call_id/transfer", h.Transfer)
		calls.POST("/:call_id/warm-transfer", h.WarmTransfer)
		calls.POST("/:call_id/consent", h.SetConsent)
		calls.POST("/:call_id/recording/start", h.StartRecording())
		calls.POST("/:call_id/recording/stop", h.StopRecording())
		calls.GET("/:call_id/audit", rbac.Require(rbac.PermSupervise), h.CallAudit)
	}

	agents := v1.Group("/agents", rbac.Require(rbac.PermCallControl))
	{
		agents.POST("", h.RegisterAgent)
		agents.GET("/:agent_id", rbac.RequireSelfOrSupervisor("agent_id"), h.GetAgent)
		agents.POST("/:agent_id/status", rbac.RequireSelfOrSupervisor("agent_id"), h.SetAgentStatus)
	}

	// The service role lets automation feed contact lists.
	campaigns := v1.Group("/campaigns", rbac.Require(rbac.PermCampaigns))
	{
		campaigns.GET("/:campaign_id/contacts", h.ListContacts)
		campaigns.POST("/:campaign_id/contacts", h.AddContact)
		campaigns.POST("/:campaign_id/pause", h.SetCampaignActive(false))
		campaigns.POST("/:campaign_id/resume", h.SetCampaignActive(true))
		campaigns.GET("/:campaign_id/summary", rbac.Require(rbac.PermReports), h.CampaignReport)
	}

	reports := v1.Group("/reports", rbac.Require(rbac.PermReports))
	{
		reports.GET("/calls", h.CallsReport)
	}
}
