package httpapi

import (
	"net/http"
	"time"

	"callcenter/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 24 * time.Hour

// reportRange reads from/to (RFC 3339) from the query. Missing bounds default to the
// last 24 hours.
func (h Handlers) reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	to := h.now().UTC()
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		to = t
	}
	from := to.Add(-defaultReportWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		from = t
	}
	return reporting.TimeRange{From: from, To: to}, true
}

func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rng, ok := h.reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		WorkspaceID: identity(c).WorkspaceID,
		Range:       rng,
		CampaignID:  c.Query("campaign_id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CampaignReport(c *gin.Context) {
	camp, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rng, ok := h.reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CampaignSummary(c.Request.Context(), reporting.CampaignSummaryRequest{
		WorkspaceID: camp.WorkspaceID,
		Range:       rng,
		CampaignID:  camp.ID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CallAudit lists the audit trail of one call: transfers, force releases, rejected
// requests and blocked recordings.
func (h Handlers) CallAudit(c *gin.Context) {
	call, ok := h.loadCall(c)
	if !ok {
		return
	}
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	trail, err := h.Audit.CallTrail(c.Request.Context(), call.WorkspaceID, call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "events": trail})
}
