package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers provides HTTP handlers for notifications
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers notification routes on the provided group
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/test", h.Test)
}

// List returns the configured notifiers
// GET /api/v1/notifications
func (h *Handlers) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.List())
}

// Test sends a test notification through every configured notifier
// POST /api/v1/notifications/test
func (h *Handlers) Test(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Test(c.Request().Context()))
}
