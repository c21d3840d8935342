package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/errkind"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

const serviceName = "chronograph"

// HealthHandler handles health check requests
type HealthHandler struct {
	engine    chronograph.GraphQuerier
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(engine chronograph.GraphQuerier) *HealthHandler {
	return &HealthHandler{engine: engine, startedAt: time.Now()}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// ReadinessCheck handles GET /ready. The store is checked with a lookup of a
// node that does not exist: NotFound means the backend answered.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	if h.engine == nil {
		checks["database"] = gin.H{"status": "unhealthy", "error": "engine not initialized"}
		ready = false
	} else {
		start := time.Now()
		_, err := h.engine.GetNode(ctx, "readiness-check")
		check := gin.H{"status": "healthy", "duration": time.Since(start).String()}
		if err != nil && !errkind.Is(errkind.NotFound, err) {
			check["status"] = "unhealthy"
			check["error"] = err.Error()
			ready = false
		}
		checks["database"] = check
	}

	checks["system"] = gin.H{
		"status":     "healthy",
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"go_version": GoVersion,
		"git_commit": GitCommit,
		"build_time": BuildTime,
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// LivenessCheck handles GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
