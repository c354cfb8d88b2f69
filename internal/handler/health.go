package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	service string
	version string
	pingDB  func() error
}

// NewHealthHandler creates a HealthHandler. pingDB is called on each check to
// verify database connectivity.
func NewHealthHandler(service, version string, pingDB func() error) *HealthHandler {
	return &HealthHandler{service: service, version: version, pingDB: pingDB}
}

// HealthCheck returns service health status including database connectivity.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	if h.pingDB != nil {
		if err := h.pingDB(); err != nil {
			status = "unhealthy"
			dbStatus = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   h.service,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    gin.H{"database": dbStatus},
	})
}
