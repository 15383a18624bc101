package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	items []HealthItem
}

func (b *recordingBroadcaster) Broadcast(msgType string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item, ok := payload.(HealthItem); ok {
		b.items = append(b.items, item)
	}
	return nil
}

func newTestService() (*Service, *recordingBroadcaster) {
	s := NewService(zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	b := &recordingBroadcaster{}
	s.SetBroadcaster(b)
	return s, b
}

func TestService_StatusTransitions(t *testing.T) {
	s, b := newTestService()

	s.RegisterItemStr("services", "radarr", "Radarr")
	assert.True(t, s.IsHealthy(CategoryServices, "radarr"))

	s.SetErrorStr("services", "radarr", "circuit open")
	item := s.GetItem(CategoryServices, "radarr")
	require.NotNil(t, item)
	assert.Equal(t, StatusError, item.Status)
	require.NotNil(t, item.Timestamp)

	// Repeating the same status is not a change.
	s.SetErrorStr("services", "radarr", "circuit open")

	s.SetWarningStr("services", "radarr", "probing")
	s.ClearStatusStr("services", "radarr")
	assert.True(t, s.IsHealthy(CategoryServices, "radarr"))
	assert.Nil(t, s.GetItem(CategoryServices, "radarr").Timestamp)

	statuses := make([]HealthStatus, 0, len(b.items))
	for _, it := range b.items {
		statuses = append(statuses, it.Status)
	}
	assert.Equal(t, []HealthStatus{StatusOK, StatusError, StatusWarning, StatusOK}, statuses)
}

func TestService_UnknownItemsAreIgnored(t *testing.T) {
	s, _ := newTestService()

	s.SetError(CategoryTasks, "missing", "boom")
	assert.Nil(t, s.GetItem(CategoryTasks, "missing"))

	s.RegisterItem("bogus", "x", "X")
	assert.Empty(t, s.GetAll().Services)
	assert.Empty(t, s.GetAll().Tasks)
}

func TestService_ReRegisterKeepsStatus(t *testing.T) {
	s, _ := newTestService()

	s.RegisterItem(CategoryTasks, "queue-sweep", "Queue Sweep")
	s.SetError(CategoryTasks, "queue-sweep", "failed")
	s.RegisterItem(CategoryTasks, "queue-sweep", "Sweep")

	item := s.GetItem(CategoryTasks, "queue-sweep")
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, "Sweep", item.Name)
}

func TestService_Check(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	down := true
	s.RegisterCheck(CategoryServices, "sonarr", "Sonarr", func(context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	})
	s.RegisterCheck(CategoryServices, "radarr", "Radarr", func(context.Context) error { return nil })

	item, err := s.Check(ctx, CategoryServices, "sonarr")
	require.NoError(t, err)
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, "connection refused", item.Message)

	down = false
	results := s.CheckCategory(ctx, CategoryServices)
	require.Len(t, results, 2)
	assert.Equal(t, "radarr", results[0].ID)
	assert.Equal(t, StatusOK, results[1].Status)

	_, err = s.Check(ctx, CategoryServices, "overseerr")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_Summary(t *testing.T) {
	s, _ := newTestService()

	s.RegisterItem(CategoryServices, "radarr", "Radarr")
	s.RegisterItem(CategoryServices, "sonarr", "Sonarr")
	s.RegisterItem(CategoryTasks, "rule-evaluation", "Rule Evaluation")
	s.SetError(CategoryServices, "sonarr", "down")

	summary := s.GetSummary()
	assert.True(t, summary.HasIssues)
	require.Len(t, summary.Categories, 2)
	assert.Equal(t, CategorySummary{Category: CategoryServices, OK: 1, Error: 1}, summary.Categories[0])
	assert.Equal(t, 1, summary.Categories[1].Total())
}

func TestHandlers(t *testing.T) {
	s, _ := newTestService()
	s.RegisterCheck(CategoryServices, "radarr", "Radarr", func(context.Context) error { return nil })

	e := echo.New()
	NewHandlers(s).RegisterRoutes(e.Group("/api/v1/system/health"))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/system/health", http.StatusOK},
		{http.MethodGet, "/api/v1/system/health/summary", http.StatusOK},
		{http.MethodGet, "/api/v1/system/health/services", http.StatusOK},
		{http.MethodGet, "/api/v1/system/health/indexers", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/system/health/services/test", http.StatusOK},
		{http.MethodPost, "/api/v1/system/health/services/radarr/test", http.StatusOK},
		{http.MethodPost, "/api/v1/system/health/services/plex/test", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
