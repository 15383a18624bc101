package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// deleteNowSuffix ends the path of the per-item deletion event stream.
const deleteNowSuffix = "/delete-now"

// IsEventStream reports whether the request is for a server-sent event
// stream. Such responses carry one event per deletion stage and must reach
// the client unbuffered.
func IsEventStream(c echo.Context) bool {
	r := c.Request()
	return strings.HasSuffix(r.URL.Path, deleteNowSuffix) ||
		strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}

// SecurityHeaders sets browser headers for a JSON-only API. Nothing here is
// meant to be framed or rendered, and queue state changes on every sweep, so
// API and metrics responses are never cached.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			path := c.Request().URL.Path
			if strings.HasPrefix(path, "/api/") || path == "/metrics" {
				h.Set(echo.HeaderCacheControl, "no-store")
			}
			if IsEventStream(c) {
				// nginx and similar proxies buffer responses unless told not to.
				h.Set("X-Accel-Buffering", "no")
			}

			return next(c)
		}
	}
}
