package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"callcenter/internal/httpapi"
	"callcenter/internal/webhook"
	"callcenter/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	webhookPrefix = "/webhooks/twilio"
	voicePath     = webhookPrefix + "/voice"
	statusPath    = webhookPrefix + "/status"
	recordingPath = webhookPrefix + "/recording"
)

type health struct {
	db  *sql.DB
	rdb *redis.Client
}

func (h health) check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := utils.HealthCheck(ctx, h.db, 2*time.Second); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
		return
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Keep route files free of business logic. Handlers delegate to internal modules.

// registerPublicRoutes mounts health, metrics and provider webhooks. Webhooks are
// authenticated by the provider signature, not by bearer tokens.
func registerPublicRoutes(r *gin.Engine, h health, hooks *webhook.Handler) {
	r.GET("/healthz", h.check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	hooks.Register(r.Group(webhookPrefix))
}

func registerAuthRoutes(r *gin.Engine, api httpapi.Handlers) {
	r.POST("/v1/auth/login", api.Login)
	r.POST("/v1/auth/refresh", api.Refresh)
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, api httpapi.Handlers) {
	api.Register(r.Group("/v1", authMW))
}
