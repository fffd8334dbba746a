package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datapult/datapult/internal/monitoring"
)

// Healthz reports process liveness.
func Healthz(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.EvaluateLiveness(requestContext(c))
		c.JSON(healthStatusCode(report), report)
	}
}

// Readyz reports whether the service's dependencies can serve traffic.
func Readyz(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.EvaluateReadiness(requestContext(c))
		c.JSON(healthStatusCode(report), report)
	}
}

func healthStatusCode(report monitoring.HealthReport) int {
	if report.Success {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
