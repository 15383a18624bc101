package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/media"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version   string           `json:"version"`
	Commit    string           `json:"commit,omitempty"`
	StartTime string           `json:"startTime"`
	Uptime    string           `json:"uptime"`
	DryRun    bool             `json:"dryRun"`
	Counts    map[string]int64 `json:"counts"`
	Clients   int              `json:"websocketClients"`
}

func (s *Server) healthCheck(c echo.Context) error {
	if err := s.deps.Media.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// getStatus reports the build and per-status media counts.
// GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	counts := make(map[string]int64)
	for _, status := range []media.Status{
		media.StatusMonitored,
		media.StatusPendingDeletion,
		media.StatusProtected,
		media.StatusDeleted,
	} {
		n, err := s.deps.Media.Count(ctx, status)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		counts[string(status)] = n
	}

	resp := StatusResponse{
		Version:   config.Version,
		Commit:    config.Commit,
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		DryRun:    s.deps.Engine.Config().DryRun,
		Counts:    counts,
	}
	if s.deps.Hub != nil {
		resp.Clients = s.deps.Hub.ClientCount()
	}
	return c.JSON(http.StatusOK, resp)
}
