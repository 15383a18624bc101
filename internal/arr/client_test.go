package arr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresConfig(t *testing.T) {
	_, err := NewRadarr(Config{URL: "http://localhost:7878"}, BreakerConfig{}, zerolog.Nop())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NewRadarr() error = %v, want %v", err, ErrNotConfigured)
	}
}

func TestRadarr_UnmonitorMovie(t *testing.T) {
	var put map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get(apiKeyHeader))
		assert.Equal(t, "/api/v3/movie/12", r.URL.Path)

		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"id":12,"title":"Heat","monitored":true,"qualityProfileId":4}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	radarr, err := NewRadarr(Config{URL: srv.URL + "/", APIKey: "secret"}, BreakerConfig{}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, radarr.UnmonitorMovie(context.Background(), 12))
	assert.Equal(t, false, put["monitored"])
	assert.Equal(t, float64(4), put["qualityProfileId"], "unknown fields are preserved")
}

func TestRadarr_DeleteMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "false", r.URL.Query().Get("deleteFiles"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	radarr, err := NewRadarr(Config{URL: srv.URL, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, radarr.DeleteMovie(context.Background(), 3, false))
}

func TestSonarr_UnmonitorSeries(t *testing.T) {
	var put map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"id":5,"monitored":true,"seasons":[{"seasonNumber":1,"monitored":true}]}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
		}
	}))
	defer srv.Close()

	sonarr, err := NewSonarr(Config{URL: srv.URL, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sonarr.UnmonitorSeries(context.Background(), 5))

	assert.Equal(t, false, put["monitored"])
	seasons := put["seasons"].([]any)
	assert.Equal(t, false, seasons[0].(map[string]any)["monitored"])
}

func TestOverseerr_ResetMedia(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/movie/603":
			_, _ = w.Write([]byte(`{"id":603,"mediaInfo":{"id":41}}`))
		case "/api/v1/media/41":
			assert.Equal(t, http.MethodDelete, r.Method)
			deleted.Store(true)
			w.WriteHeader(http.StatusNoContent)
		case "/api/v1/tv/99":
			_, _ = w.Write([]byte(`{"id":99}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	overseerr, err := NewOverseerr(Config{URL: srv.URL, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	reset, err := overseerr.ResetMedia(ctx, "movie", 603)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.True(t, deleted.Load())

	reset, err = overseerr.ResetMedia(ctx, "tv", 99)
	require.NoError(t, err)
	assert.False(t, reset, "no media info means nothing to reset")

	reset, err = overseerr.ResetMedia(ctx, "movie", 1)
	require.NoError(t, err)
	assert.False(t, reset, "unknown title means nothing to reset")
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	radarr, err := NewRadarr(Config{URL: srv.URL, APIKey: "k"},
		BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := radarr.DeleteMovie(ctx, 1, false)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	}

	assert.Equal(t, gobreaker.StateOpen, radarr.State())
	err = radarr.DeleteMovie(ctx, 1, false)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the server")
}

func TestClient_NotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	radarr, err := NewRadarr(Config{URL: srv.URL, APIKey: "k"},
		BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, radarr.DeleteMovie(context.Background(), 1, false), ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, radarr.State())
}

type recordingHealth struct {
	registered []string
	statuses   []string
}

func (h *recordingHealth) RegisterItemStr(category, id, name string) {
	h.registered = append(h.registered, category+"/"+id+"/"+name)
}
func (h *recordingHealth) SetErrorStr(category, id, message string) {
	h.statuses = append(h.statuses, "error:"+id)
}
func (h *recordingHealth) SetWarningStr(category, id, message string) {
	h.statuses = append(h.statuses, "warning:"+id)
}
func (h *recordingHealth) ClearStatusStr(category, id string) {
	h.statuses = append(h.statuses, "ok:"+id)
}

func TestClient_ReportsBreakerStateToHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := &recordingHealth{}
	sonarr, err := NewSonarr(Config{URL: srv.URL, APIKey: "k"},
		BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, zerolog.Nop(), WithHealth(h))
	require.NoError(t, err)
	assert.Equal(t, []string{"services/sonarr/Sonarr"}, h.registered)

	err = sonarr.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"error:sonarr"}, h.statuses)
}

func TestClient_Ping(t *testing.T) {
	tests := []struct {
		name string
		new  func(url string) (interface{ Ping(context.Context) error }, error)
		path string
	}{
		{"radarr", func(u string) (interface{ Ping(context.Context) error }, error) {
			return NewRadarr(Config{URL: u, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
		}, "/api/v3/system/status"},
		{"sonarr", func(u string) (interface{ Ping(context.Context) error }, error) {
			return NewSonarr(Config{URL: u, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
		}, "/api/v3/system/status"},
		{"overseerr", func(u string) (interface{ Ping(context.Context) error }, error) {
			return NewOverseerr(Config{URL: u, APIKey: "k"}, BreakerConfig{}, zerolog.Nop())
		}, "/api/v1/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(`{"version":"4.0.0"}`))
			}))
			defer srv.Close()

			c, err := tt.new(srv.URL)
			require.NoError(t, err)
			assert.NoError(t, c.Ping(context.Background()))
		})
	}
}
