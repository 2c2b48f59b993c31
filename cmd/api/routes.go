package main

import (
	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/httpapi"
	"chat-platform/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	auth  *auth.Manager
	calls *calls.Service
	hub   *signaling.Hub
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Websocket gateway: the hub does its own token verification because
	// browsers cannot set headers on the upgrade request.
	r.GET("/ws", deps.hub.HandleWS)

	h := httpapi.Handlers{
		Auth:   deps.auth,
		Calls:  deps.calls,
		Notify: deps.hub,
	}

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(deps.auth))
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "username": auth.Username(c.Request.Context())})
		})

		callRoutes := protected.Group("/calls")
		{
			callRoutes.POST("/initiate", h.InitiateCall)
			callRoutes.GET("/history", h.CallHistory)
			callRoutes.GET("/active", h.ActiveCalls)
			callRoutes.GET("/statistics", h.CallStatistics)
			callRoutes.GET("/:call_id", h.CallDetails)
			callRoutes.PUT("/:call_id/accept", h.AcceptCall)
			callRoutes.PUT("/:call_id/reject", h.RejectCall)
			callRoutes.PUT("/:call_id/end", h.EndCall)
		}
	}
}
