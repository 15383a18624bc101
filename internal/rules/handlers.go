package rules

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

// ItemSource supplies the items a preview evaluates.
type ItemSource interface {
	GetItemsForEvaluation(ctx context.Context, limit int) ([]*media.Item, error)
}

// Handlers provides HTTP handlers for rule operations.
type Handlers struct {
	store  *Store
	engine *Engine
	items  ItemSource
}

// NewHandlers creates new rule handlers.
func NewHandlers(store *Store, engine *Engine, items ItemSource) *Handlers {
	return &Handlers{store: store, engine: engine, items: items}
}

// RegisterRoutes registers the rule routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/protection", h.GetProtection)
	g.PUT("/protection", h.UpdateProtection)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/toggle", h.Toggle)
	g.POST("/:id/preview", h.Preview)
}

// List returns all rules.
// GET /api/v1/rules
func (h *Handlers) List(c echo.Context) error {
	rules, err := h.store.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rules)
}

// Get returns a single rule.
// GET /api/v1/rules/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	rule, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// Create creates a rule.
// POST /api/v1/rules
func (h *Handlers) Create(c echo.Context) error {
	var input Input
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, err := h.store.Create(c.Request().Context(), input)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// Update replaces a rule.
// PUT /api/v1/rules/:id
func (h *Handlers) Update(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var input Input
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, err := h.store.Update(c.Request().Context(), id, input)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// Delete removes a rule.
// DELETE /api/v1/rules/:id
func (h *Handlers) Delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return ruleError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Toggle flips a rule's enabled flag.
// POST /api/v1/rules/:id/toggle
func (h *Handlers) Toggle(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	rule, err := h.store.Get(ctx, id)
	if err != nil {
		return ruleError(err)
	}

	rule, err = h.store.SetEnabled(ctx, id, !rule.Enabled)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// Preview evaluates a single rule against the library without changing
// anything. Disabled rules are previewed as if enabled.
// POST /api/v1/rules/:id/preview
func (h *Handlers) Preview(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	rule, err := h.store.Get(ctx, id)
	if err != nil {
		return ruleError(err)
	}
	rule.Enabled = true

	items, err := h.items.GetItemsForEvaluation(ctx, h.engine.Config().BatchSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, h.engine.EvaluateAll(items, []*Rule{rule}))
}

// GetProtection returns the live protection settings.
// GET /api/v1/rules/protection
func (h *Handlers) GetProtection(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.ProtectionConfig())
}

// UpdateProtection replaces the live protection settings.
// PUT /api/v1/rules/protection
func (h *Handlers) UpdateProtection(c echo.Context) error {
	var cfg ProtectionConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cfg.RecentlyAddedDays < 0 || cfg.RecentlyWatchedDays < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "protection thresholds must not be negative")
	}

	h.engine.UpdateProtectionConfig(cfg)
	return c.JSON(http.StatusOK, h.engine.ProtectionConfig())
}

func ruleError(err error) error {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidRule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateName):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
