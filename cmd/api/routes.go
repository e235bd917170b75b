package main

import (
	"database/sql"
	"net/http"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/calllog"
	"voicedesk/internal/config"
	"voicedesk/internal/opsapi"
	"voicedesk/internal/relay"
	"voicedesk/internal/store"
	"voicedesk/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg    *config.Config
	auth   *auth.Manager
	store  store.Store
	bridge *relay.Bridge
	calls  *calllog.Service
	db     *sql.DB
	redis  *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: This endpoint should be protected by Twilio signature validation in production.
	webhook := relay.WebhookHandler{
		Merchants: deps.store,
		StreamURL: deps.cfg.MediaStreamURL,
	}
	r.POST("/webhooks/twilio/voice", webhook.HandleInboundVoice)

	// Per-call media stream (public; Twilio connects here after the webhook).
	r.GET("/media-stream/:merchant_id", deps.bridge.HandleMediaStream)

	// protected API group
	ops := opsapi.Handlers{Auth: deps.auth, Store: deps.store, Calls: deps.calls}

	// NOTE: placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", ops.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		v1.GET("/messages", ops.ListMessages)
		v1.POST("/messages/:id/read", ops.MarkMessageRead)
		v1.GET("/appointments", ops.ListAppointments)
		v1.GET("/calls", ops.ListCallEvents)

		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			mid, _ := auth.MerchantID(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "merchant_id": mid})
		})
	}
}
