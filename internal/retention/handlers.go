package retention

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reclaimarr/reclaimarr/internal/rules"
)

// Handlers provides HTTP handlers for retention runs and settings.
type Handlers struct {
	service *Service
}

// NewHandlers creates new retention handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the retention routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("/run", h.Run)
	g.POST("/preview", h.Preview)
	g.GET("/settings", h.GetSettings)
	g.PUT("/settings", h.UpdateSettings)
}

// Run evaluates the rules and applies the verdicts.
// POST /api/v1/retention/run
func (h *Handlers) Run(c echo.Context) error {
	result, err := h.service.Run(c.Request().Context())
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// Preview evaluates the rules without changing the queue.
// POST /api/v1/retention/preview
func (h *Handlers) Preview(c echo.Context) error {
	result, err := h.service.Preview(c.Request().Context())
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetSettings returns the evaluation settings.
// GET /api/v1/retention/settings
func (h *Handlers) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.engine.Config())
}

// UpdateSettings replaces the evaluation settings until restart.
// PUT /api/v1/retention/settings
func (h *Handlers) UpdateSettings(c echo.Context) error {
	var cfg rules.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cfg.BatchSize < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batchSize must not be negative")
	}
	h.service.engine.UpdateConfig(cfg)
	return c.JSON(http.StatusOK, cfg)
}

func runError(err error) error {
	if errors.Is(err, ErrRunInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
