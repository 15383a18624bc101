package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	QueryLogs(q logger.Query) []logger.LogEntry
	GetLogFilePath() string
}

// LogsHandlers serves the buffered log stream and the log file.
type LogsHandlers struct {
	provider LogsProvider
}

func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Query)
	g.GET("/download", h.DownloadLogFile)
}

// Query returns recent log entries, optionally narrowed to one media item,
// rule or task, so an item's deletion can be traced across components.
// GET /api/v1/logs?level=warn&component=queue&itemId=7&ruleId=2&task=queue-sweep&limit=100
func (h *LogsHandlers) Query(c echo.Context) error {
	q := logger.Query{
		Component: c.QueryParam("component"),
		Task:      c.QueryParam("task"),
	}

	if lvl := c.QueryParam("level"); lvl != "" {
		if _, err := zerolog.ParseLevel(lvl); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid level")
		}
		q.MinLevel = lvl
	}

	var err error
	if q.ItemID, err = optionalID(c, "itemId"); err != nil {
		return err
	}
	if q.RuleID, err = optionalID(c, "ruleId"); err != nil {
		return err
	}
	if v := c.QueryParam("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	logs := h.provider.QueryLogs(q)
	if logs == nil {
		logs = []logger.LogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}

func optionalID(c echo.Context, name string) (*int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// DownloadLogFile serves the current log file.
// GET /api/v1/logs/download
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	logPath := h.provider.GetLogFilePath()
	if logPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}

	return c.Attachment(logPath, filepath.Base(logPath))
}
