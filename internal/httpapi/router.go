// Package httpapi implements the HTTP Surface (C8, spec.md §4.8, §6):
// request routing, SSE framing, and the admin auth gate for log retrieval.
// Routing follows the teacher's router.go shape (gin.New, explicit
// NoRoute/NoMethod handlers, a middleware chain applied before route
// registration) adapted from chat/user routes to the job pipeline's.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/config"
	"github.com/nimbusbuild/orchestrator/internal/httpapi/handlers"
	"github.com/nimbusbuild/orchestrator/internal/httpapi/middleware"
	"github.com/nimbusbuild/orchestrator/internal/queue"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

// NewRouter builds the gin engine for spec.md §6's route table.
func NewRouter(st store.Store, ar archive.Archive, pub *queue.Publisher, events *queue.EventBus, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	h := handlers.NewJobHandler(st, ar, pub, events, cfg.DefaultModel, cfg.AuthToken)

	r.GET("/health", h.Health)

	r.POST("/api/jobs", h.CreateJob)
	r.GET("/api/jobs", h.ListJobs)
	r.GET("/api/jobs/:id", h.GetJob)

	admin := r.Group("/api/jobs")
	admin.Use(middleware.AdminAuth(cfg.AuthToken))
	admin.GET("/:id/logs", h.GetJobLogs)

	// Legacy alias, spec.md §6: "POST /build — legacy alias for POST /api/jobs".
	r.POST("/build", h.CreateJob)

	return r
}
