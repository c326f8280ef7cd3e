package httpapi

import (
	"errors"
	"net/http"

	"callcenter/internal/agents"
	"callcenter/internal/calls"
	"callcenter/internal/control"
	"callcenter/internal/dialer"
	"callcenter/internal/reporting"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP statuses. A rejected transition carries the
// call's current status so clients can resync.
func writeError(c *gin.Context, err error) {
	var se *calls.StateError
	var pe *telephony.ProviderError
	switch {
	case errors.As(err, &se):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "status": se.From})
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, agents.ErrNotFound),
		errors.Is(err, dialer.ErrNotFound), errors.Is(err, dialer.ErrUnknownCampaign):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, control.ErrNotAssigned):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, control.ErrConsentRequired):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "consent_required"})
	case errors.Is(err, agents.ErrConflict), errors.Is(err, agents.ErrNotAvailable),
		errors.Is(err, agents.ErrVersionConflict), errors.Is(err, calls.ErrVersionConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, control.ErrInvalidArgument), errors.Is(err, agents.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, dialer.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &pe):
		switch pe.Kind {
		case telephony.KindInvalidNumber:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": pe.Kind})
		case telephony.KindRateLimited:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "provider busy", "code": pe.Kind})
		default:
			logger.FromGin(c).Warn("provider request failed", "op", pe.Op, "kind", pe.Kind, "err", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider request failed", "code": pe.Kind})
		}
	default:
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
