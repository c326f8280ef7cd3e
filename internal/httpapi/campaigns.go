package httpapi

import (
	"net/http"

	"callcenter/internal/dialer"

	"github.com/gin-gonic/gin"
)

// loadCampaign resolves :campaign_id within the caller's workspace.
func (h Handlers) loadCampaign(c *gin.Context) (dialer.Campaign, bool) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return dialer.Campaign{}, false
	}
	camp, ok := h.Dialer.Campaign(c.Param("campaign_id"))
	if !ok || !sameWorkspace(identity(c), camp.WorkspaceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return dialer.Campaign{}, false
	}
	return camp, true
}

type addContactRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Timezone string `json:"timezone"`
}

func (h Handlers) AddContact(c *gin.Context) {
	camp, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	var req addContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}
	ct, err := h.Dialer.AddContact(requestContext(c), dialer.Contact{CampaignID: camp.ID, Phone: req.Phone, Timezone: req.Timezone})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ct)
}

func (h Handlers) ListContacts(c *gin.Context) {
	camp, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	out, err := h.Dialer.Contacts(c.Request.Context(), camp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

// SetCampaignActive returns a handler that pauses or resumes a campaign.
func (h Handlers) SetCampaignActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		camp, ok := h.loadCampaign(c)
		if !ok {
			return
		}
		if err := h.Dialer.SetActive(camp.ID, active); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"campaign_id": camp.ID, "active": active})
	}
}
