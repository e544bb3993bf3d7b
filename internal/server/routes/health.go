package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRoutes registers the liveness endpoint.
type HealthRoutes struct {
	deps map[string]Pinger
}

func NewHealthRoutes(deps map[string]Pinger) *HealthRoutes {
	return &HealthRoutes{deps: deps}
}

func (h *HealthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/health", h.handleHealth)
}

func (h *HealthRoutes) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
