package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/logger"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/rules"
	"github.com/reclaimarr/reclaimarr/internal/testutil"
)

type testServer struct {
	*Server
	media *media.Store
}

type staticLogs struct {
	entries []logger.LogEntry
}

func (s staticLogs) QueryLogs(q logger.Query) []logger.LogEntry {
	var out []logger.LogEntry
	for _, e := range s.entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s staticLogs) GetLogFilePath() string { return "" }

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	cfg := config.Default()
	mediaStore := media.NewStore(tdb.Conn, tdb.Logger)
	hist := history.NewService(tdb.Conn, tdb.Logger)

	queueSvc, err := queue.NewService(mediaStore, cfg.Retention.Queue, tdb.Logger, queue.WithHistory(hist))
	require.NoError(t, err)
	processor, err := queue.NewProcessor(mediaStore, deletion.NewArrExecutor(tdb.Logger), cfg.Retention.Queue, tdb.Logger, queue.WithHistory(hist))
	require.NoError(t, err)

	server, err := NewServer(Deps{
		Config:    cfg,
		Media:     mediaStore,
		Rules:     rules.NewStore(tdb.Conn, tdb.Logger),
		Engine:    rules.NewEngine(cfg.Retention.Rules(), cfg.Retention.Protection, tdb.Logger),
		Queue:     queueSvc,
		Processor: processor,
		History:   hist,
		Logs: staticLogs{entries: []logger.LogEntry{
			{Level: "info", Message: "started"},
			{Level: "warn", Component: "queue", Message: "Deletion failed, item left in place", ItemID: testutil.Int64Ptr(7)},
		}},
	}, tdb.Logger)
	require.NoError(t, err)

	return &testServer{Server: server, media: mediaStore}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(t *testing.T, title string) *media.Item {
	t.Helper()
	item, err := ts.media.Upsert(context.Background(), &media.Item{Title: title, Type: media.TypeMovie})
	require.NoError(t, err)
	return item
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(Deps{}, testutil.NopLogger())
	assert.ErrorIs(t, err, ErrMissingService)
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestGetStatus(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "Heat")
	ts.seed(t, "Ronin")

	rec := ts.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, config.Version, status.Version)
	assert.Equal(t, int64(2), status.Counts[string(media.StatusMonitored)])
	assert.Equal(t, int64(0), status.Counts[string(media.StatusPendingDeletion)])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestQueueRoutes(t *testing.T) {
	ts := setupTestServer(t)
	item := ts.seed(t, "Heat")

	rec := ts.do(t, http.MethodPost, "/api/v1/queue/"+itoa(item.ID)+"/mark", `{"gracePeriodDays": 3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var marked media.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &marked))
	assert.Equal(t, media.StatusPendingDeletion, marked.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []media.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)

	rec = ts.do(t, http.MethodPost, "/api/v1/queue/"+itoa(item.ID)+"/protect", `{"reason":"classic"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Protected items cannot be queued.
	rec = ts.do(t, http.MethodPost, "/api/v1/queue/"+itoa(item.ID)+"/mark", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/history/media/movie/"+itoa(item.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 3)
}

func TestQueueRoutes_Errors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown item", "/api/v1/queue/9999/mark", `{}`, http.StatusNotFound},
		{"bad id", "/api/v1/queue/abc/mark", `{}`, http.StatusBadRequest},
		{"negative grace", "/api/v1/queue/1/mark", `{"gracePeriodDays": -1}`, http.StatusBadRequest},
	}
	ts.seed(t, "Heat")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMediaRoutes(t *testing.T) {
	ts := setupTestServer(t)
	item := ts.seed(t, "Heat")

	rec := ts.do(t, http.MethodGet, "/api/v1/media?status=monitored", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []media.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/media/"+itoa(item.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/media/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRulesAndOptionalRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/rules", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/rules/protection", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "started")

	rec = ts.do(t, http.MethodGet, "/api/v1/logs/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Not mounted without a scheduler.
	rec = ts.do(t, http.MethodGet, "/api/v1/tasks", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogsQuery(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		query string
		code  int
		want  int
	}{
		{"", http.StatusOK, 2},
		{"?level=warn", http.StatusOK, 1},
		{"?itemId=7", http.StatusOK, 1},
		{"?itemId=8", http.StatusOK, 0},
		{"?component=queue&itemId=7", http.StatusOK, 1},
		{"?level=loud", http.StatusBadRequest, 0},
		{"?itemId=seven", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/v1/logs"+tt.query, "")
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var entries []logger.LogEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reclaimarr_")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
