package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/media"
)

// Handlers provides HTTP handlers for the deletion queue.
type Handlers struct {
	service   *Service
	processor *Processor
}

// NewHandlers creates new queue handlers.
func NewHandlers(service *Service, processor *Processor) *Handlers {
	return &Handlers{service: service, processor: processor}
}

// RegisterRoutes registers the queue routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.POST("/process", h.Process)

	g.POST("/bulk/mark", h.BulkMark)
	g.POST("/bulk/remove", h.BulkRemove)
	g.POST("/bulk/protect", h.BulkProtect)
	g.POST("/bulk/unprotect", h.BulkUnprotect)

	g.POST("/:id/mark", h.Mark)
	g.POST("/:id/remove", h.Remove)
	g.POST("/:id/protect", h.Protect)
	g.POST("/:id/unprotect", h.Unprotect)
	g.POST("/:id/delete-now", h.DeleteNow)
}

type protectRequest struct {
	Reason string `json:"reason"`
}

type bulkRequest struct {
	IDs []int64 `json:"ids"`
}

type bulkMarkRequest struct {
	IDs []int64 `json:"ids"`
	MarkOptions
}

type bulkProtectRequest struct {
	IDs    []int64 `json:"ids"`
	Reason string  `json:"reason"`
}

type deleteNowRequest struct {
	Action media.DeletionAction `json:"action"`
}

// List returns the queue.
// GET /api/v1/queue
func (h *Handlers) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Stats returns queue totals.
// GET /api/v1/queue/stats
func (h *Handlers) Stats(c echo.Context) error {
	stats, err := h.service.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// Process runs a sweep immediately.
// POST /api/v1/queue/process
func (h *Handlers) Process(c echo.Context) error {
	result, err := h.processor.ProcessQueue(c.Request().Context())
	if err != nil {
		return queueError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// Mark queues an item.
// POST /api/v1/queue/:id/mark
func (h *Handlers) Mark(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var opts MarkOptions
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	opts.Source = SourceManual

	item, err := h.service.MarkForDeletion(c.Request().Context(), id, opts)
	if err != nil {
		return queueError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Remove takes an item out of the queue.
// POST /api/v1/queue/:id/remove
func (h *Handlers) Remove(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	item, err := h.service.RemoveFromQueue(c.Request().Context(), id)
	if err != nil {
		return queueError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Protect exempts an item from deletion.
// POST /api/v1/queue/:id/protect
func (h *Handlers) Protect(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req protectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	item, err := h.service.Protect(c.Request().Context(), id, req.Reason)
	if err != nil {
		return queueError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Unprotect lifts protection from an item.
// POST /api/v1/queue/:id/unprotect
func (h *Handlers) Unprotect(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	item, err := h.service.Unprotect(c.Request().Context(), id)
	if err != nil {
		return queueError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// BulkMark queues several items.
// POST /api/v1/queue/bulk/mark
func (h *Handlers) BulkMark(c echo.Context) error {
	var req bulkMarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.MarkOptions.Source = SourceManual
	return c.JSON(http.StatusOK, h.service.BulkMarkForDeletion(c.Request().Context(), req.IDs, req.MarkOptions))
}

// BulkRemove takes several items out of the queue.
// POST /api/v1/queue/bulk/remove
func (h *Handlers) BulkRemove(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.service.BulkRemoveFromQueue(c.Request().Context(), req.IDs))
}

// BulkProtect protects several items.
// POST /api/v1/queue/bulk/protect
func (h *Handlers) BulkProtect(c echo.Context) error {
	var req bulkProtectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.service.BulkProtect(c.Request().Context(), req.IDs, req.Reason))
}

// BulkUnprotect lifts protection from several items.
// POST /api/v1/queue/bulk/unprotect
func (h *Handlers) BulkUnprotect(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.service.BulkUnprotect(c.Request().Context(), req.IDs))
}

// DeleteNow deletes an item immediately and streams progress as
// server-sent events. Closing the connection stops the stream.
// POST /api/v1/queue/:id/delete-now
func (h *Handlers) DeleteNow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req deleteNowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	events, err := h.processor.DeleteNow(c.Request().Context(), id, req.Action)
	if err != nil {
		return queueError(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Stream-Id", uuid.NewString())
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if err := writeEvent(w, ev); err != nil {
			// Client went away; the channel closes once the request context does.
			continue
		}
		w.Flush()
	}
	return nil
}

func writeEvent(w *echo.Response, ev deletion.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, data)
	return err
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queueError(err error) error {
	switch {
	case errors.Is(err, media.ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidOptions), errors.Is(err, deletion.ErrInvalidAction):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrProtected),
		errors.Is(err, ErrAlreadyProtected),
		errors.Is(err, ErrNotProtected),
		errors.Is(err, ErrNotQueued),
		errors.Is(err, ErrAlreadyDeleted),
		errors.Is(err, ErrSweepInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
