package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /health.
//
// Status is "running" while a crawl is active, else "healthy".
func Health(runner *service.Runner, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if runner.Current() != "" {
			status = "running"
		}
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: Version,
		})
	}
}

// Status returns a handler for GET /api/v1/status.
func Status(runner *service.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := runner.Current()
		c.JSON(http.StatusOK, models.StatusResponse{
			Running:      current != "",
			CurrentRunID: current,
			Last:         runner.Last(),
		})
	}
}
