//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	apimw "github.com/reclaimarr/reclaimarr/internal/api/middleware"
	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/health"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/notification"
	"github.com/reclaimarr/reclaimarr/internal/progress"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/retention"
	"github.com/reclaimarr/reclaimarr/internal/rules"
	"github.com/reclaimarr/reclaimarr/internal/scheduler"
	"github.com/reclaimarr/reclaimarr/internal/websocket"
)

var ErrMissingService = errors.New("api: required service missing")

// Deps are the services the HTTP API exposes. Media, Rules, Engine, Queue,
// Processor and History are required; the rest are mounted when present.
type Deps struct {
	Config        *config.Config
	Media         *media.Store
	Rules         *rules.Store
	Engine        *rules.Engine
	Queue         *queue.Service
	Processor     *queue.Processor
	History       *history.Service
	Retention     *retention.Service
	Notifications *notification.Service
	Scheduler     *scheduler.Scheduler
	Health        *health.Service
	Progress      *progress.Manager
	Hub           *websocket.Hub
	Logs          LogsProvider
}

// Server is the HTTP API server.
type Server struct {
	echo      *echo.Echo
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Config == nil || deps.Media == nil || deps.Rules == nil || deps.Engine == nil ||
		deps.Queue == nil || deps.Processor == nil || deps.History == nil {
		return nil, ErrMissingService
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	s.echo.Use(apimw.SecurityHeaders())

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		Skipper: func(c echo.Context) bool {
			// Prometheus scrapes and health probes would drown the log.
			p := c.Request().URL.Path
			return p == "/metrics" || p == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// WebSocket upgrades and the delete-now event stream must not be buffered.
			return c.Request().Header.Get("Upgrade") == "websocket" || apimw.IsEventStream(c)
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	d := s.deps

	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	if d.Hub != nil {
		s.echo.GET("/ws", d.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	media.NewHandlers(d.Media).RegisterRoutes(api.Group("/media"))
	rules.NewHandlers(d.Rules, d.Engine, d.Media).RegisterRoutes(api.Group("/rules"))
	queue.NewHandlers(d.Queue, d.Processor).RegisterRoutes(api.Group("/queue"))
	history.NewHandlers(d.History).RegisterRoutes(api.Group("/history"))

	if d.Retention != nil {
		retention.NewHandlers(d.Retention).RegisterRoutes(api.Group("/retention"))
	}
	if d.Notifications != nil {
		notification.NewHandlers(d.Notifications).RegisterRoutes(api.Group("/notifications"))
	}
	if d.Scheduler != nil {
		scheduler.NewHandlers(d.Scheduler).RegisterRoutes(api.Group("/tasks"))
	}
	if d.Health != nil {
		health.NewHandlers(d.Health).RegisterRoutes(api.Group("/system/health"))
	}
	if d.Progress != nil {
		progress.NewHandlers(d.Progress).RegisterRoutes(api.Group("/activities"))
	}
	if d.Logs != nil {
		NewLogsHandlers(d.Logs).RegisterRoutes(api.Group("/logs"))
	}
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")

	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
