package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"coldcall-bridge/internal/auth"
	"coldcall-bridge/internal/httpapi"
	"coldcall-bridge/internal/webhook"
	"coldcall-bridge/pkg/utils"
)

// routeDeps carries everything the route table needs.
// Keep this file free of business logic; handlers delegate to internal packages.
type routeDeps struct {
	API      httpapi.Handlers
	Webhooks *webhook.Handlers
	Tokens   *auth.Manager
	DB       *sql.DB
	Redis    *redis.Client
}

func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", healthz(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks authenticate by signature, not service token.
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/conference/events", deps.Webhooks.HandleConferenceEvent)
		hooks.POST("/direct/events", deps.Webhooks.HandleDirectEvent)
	}

	// service API
	v1 := r.Group("/v1")
	v1.Use(auth.RequireServiceToken(deps.Tokens))
	{
		calls := v1.Group("/cold-call")

		write := calls.Group("")
		write.Use(auth.RequireScope(auth.ScopeBridgeWrite))
		{
			write.POST("/initiate", deps.API.Initiate)
			write.POST("/webrtc-join", deps.API.WebRTCJoin)
			write.POST("/control/mute", deps.API.Mute)
			write.POST("/control/hold", deps.API.Hold)
			write.POST("/end", deps.API.End)
		}

		read := calls.Group("")
		read.Use(auth.RequireScope(auth.ScopeBridgeRead))
		{
			read.GET("/status/:session_id", deps.API.Status)
			read.GET("/summary", deps.API.Summary)
		}
	}
}

// healthz reports readiness: the process is up and both stores answer.
func healthz(deps routeDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, deps.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
