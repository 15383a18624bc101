package progress

import (
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

type recordingHub struct {
	mu     sync.Mutex
	events []string
	last   *Activity
}

func (h *recordingHub) Broadcast(msgType string, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, msgType)
	h.last, _ = payload.(*Activity)
	return nil
}

func TestManager_Lifecycle(t *testing.T) {
	hub := &recordingHub{}
	m := NewManager(hub, zerolog.Nop())

	b := m.NewActivityBuilder("", ActivityTypeSweep, "Processing deletion queue")
	require.NotEmpty(t, b.ID(), "an empty id is generated")

	b.Update("Deleting Heat", Percent(1, 4)).SetMetadata("deleted", 1)
	got := m.GetActivity(b.ID())
	require.NotNil(t, got)
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, 1, got.Metadata["deleted"])

	b.Complete("Deleted 4 items")

	assert.Equal(t, []string{
		string(EventTypeStarted),
		string(EventTypeUpdate),
		string(EventTypeCompleted),
	}, hub.events)
	assert.Equal(t, StatusCompleted, hub.last.Status)
	assert.Equal(t, 100, hub.last.Progress)
	assert.NotNil(t, hub.last.CompletedAt)
}

func TestManager_FailKeepsError(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())

	a := m.StartActivity("sweep-1", ActivityTypeSweep, "Sweep")
	m.FailActivity(a.ID, "database is locked")

	got := m.GetActivity("sweep-1")
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "database is locked", got.Metadata["error"])
}

func TestManager_CancelForgets(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())

	m.StartActivity("d-1", ActivityTypeDeletion, "Delete")
	m.StartActivity("e-1", ActivityTypeEvaluation, "Evaluate")
	m.CancelActivity("d-1")

	assert.Nil(t, m.GetActivity("d-1"))
	assert.Len(t, m.GetAllActivities(), 1)
	assert.Len(t, m.GetActivitiesByType(ActivityTypeEvaluation), 1)
	assert.Empty(t, m.GetActivitiesByType(ActivityTypeDeletion))
}

func TestManager_SnapshotIsolation(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.StartActivity("x", ActivityTypeSweep, "Sweep")

	snap := m.GetActivity("x")
	snap.Metadata["mutated"] = true
	snap.Progress = 99

	got := m.GetActivity("x")
	assert.Equal(t, 0, got.Progress)
	assert.NotContains(t, got.Metadata, "mutated")
}

func TestUnknownActivityIsIgnored(t *testing.T) {
	hub := &recordingHub{}
	m := NewManager(hub, zerolog.Nop())

	m.UpdateActivity("missing", "x", 10)
	m.CompleteActivity("missing", "done")
	m.FailActivity("missing", "err")

	assert.Empty(t, hub.events)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 4, 0},
		{1, 3, 33},
		{3, 3, 100},
		{0, 0, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestManager_FinishedActivityIgnoresUpdates(t *testing.T) {
	hub := &recordingHub{}
	m := NewManager(hub, zerolog.Nop())

	b := m.NewActivityBuilder("e-1", ActivityTypeEvaluation, "Evaluate")
	b.Fail("rule store unavailable")
	b.Update("late", 50)
	b.Complete("late")

	got := m.GetActivity("e-1")
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "rule store unavailable", got.Subtitle)
	assert.Equal(t, []string{string(EventTypeStarted), string(EventTypeError)}, hub.events)
}

func TestManager_ListIsOrderedByStart(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	m.StartActivity("b", ActivityTypeSweep, "Sweep")
	m.StartActivity("a", ActivityTypeDeletion, "Delete")

	all := m.GetAllActivities()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestHandlers(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.StartActivity("sweep-1", ActivityTypeSweep, "Sweep")

	e := echo.New()
	NewHandlers(m).RegisterRoutes(e.Group("/api/v1/activities"))

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/activities", http.StatusOK},
		{"/api/v1/activities?type=deletion", http.StatusOK},
		{"/api/v1/activities/sweep-1", http.StatusOK},
		{"/api/v1/activities/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}
