package main

import (
	"context"
	"net/http"

	"racing-admin/internal/audit"
	"racing-admin/internal/auth"
	"racing-admin/internal/httpapi"
	"racing-admin/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	Auth  *auth.Manager
	Audit httpapi.Handlers
	Ready func(ctx context.Context) error
}

// adminResources are the racing back-office families the audit policy watches.
// Their CRUD lives outside this service; the routes exist so the admin surface
// (auth, RBAC, audit) is exercised end to end.
var adminResources = []string{"racers", "races", "registrations", "results"}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(c.Request.Context()); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ADMIN routes: bearer token + ADMIN role.
	admin := r.Group("/api/admin")
	admin.Use(auth.RequireAccessToken(d.Auth))
	admin.Use(rbac.RequireAdmin())
	{
		d.Audit.Register(admin.Group("/audit"))

		for _, res := range adminResources {
			g := admin.Group("/" + res)
			g.GET("", notWired(res))
			g.POST("", notWired(res))
			g.GET("/:id", notWired(res))
			g.PUT("/:id", notWired(res))
			g.PATCH("/:id", notWired(res))
			g.DELETE("/:id", notWired(res))
		}
	}
}

func notWired(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		audit.SetNote(c, resource+" handler not wired")
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": resource + " handler not wired"})
	}
}
