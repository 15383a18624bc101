package arr

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("service is not configured")
	ErrNotFound      = errors.New("resource not found")
	ErrUnavailable   = errors.New("service unavailable")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s %s: status %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s %s: status %d", e.Service, e.Method, e.Path, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}

// clientError reports whether err is a 4xx response, which says nothing about
// the health of the remote service.
func clientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}
