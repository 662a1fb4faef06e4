package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/appraisal/internal/middleware"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout bounds each dependency ping
	HealthCheckTimeout = 2 * time.Second
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	deps      map[string]Pinger
	startTime time.Time
	env       string
}

// NewHealthHandler creates a HealthHandler that reports ready only when every
// named dependency answers a ping.
func NewHealthHandler(env string, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
}

// Health handles GET /health. It checks nothing and serves as a liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready. Returns 503 if any dependency is down.
func (h *HealthHandler) Ready(c *gin.Context) {
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{Status: "ready", Dependencies: make(map[string]string, len(names))}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
		err := h.deps[name].Ping(ctx)
		cancel()

		if err != nil {
			if log := middleware.GetLogger(c); log != nil {
				log.Error("Dependency health check failed", err, map[string]interface{}{
					"dependency": name,
					"timeout":    HealthCheckTimeout.String(),
				})
			}
			resp.Status = "not_ready"
			resp.Dependencies[name] = "disconnected"
			continue
		}
		resp.Dependencies[name] = "connected"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      formatUptime(time.Since(h.startTime)),
	})
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
