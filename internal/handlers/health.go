package handlers

import (
	"net/http"

	"github.com/anonto42/dogpark/backend/internal/realtime"
	"github.com/labstack/echo/v4"
)

// StatsProvider reports live connection statistics
type StatsProvider interface {
	Stats() realtime.Stats
}

// HealthCheck reports liveness together with the registry load
func HealthCheck(stats StatsProvider) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := echo.Map{
			"status":  "healthy",
			"service": "notification-api",
		}
		if stats != nil {
			body["realtime"] = stats.Stats()
		}
		return c.JSON(http.StatusOK, body)
	}
}
