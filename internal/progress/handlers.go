package progress

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the tracked activities over HTTP.
type Handlers struct {
	manager *Manager
}

func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// List returns running and recently finished activities.
// GET /api/v1/activities?type=sweep
func (h *Handlers) List(c echo.Context) error {
	if t := c.QueryParam("type"); t != "" {
		return c.JSON(http.StatusOK, h.manager.GetActivitiesByType(ActivityType(t)))
	}
	return c.JSON(http.StatusOK, h.manager.GetAllActivities())
}

// GET /api/v1/activities/:id
func (h *Handlers) Get(c echo.Context) error {
	a := h.manager.GetActivity(c.Param("id"))
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "activity not found")
	}
	return c.JSON(http.StatusOK, a)
}
