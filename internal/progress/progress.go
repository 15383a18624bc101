// Package progress tracks long-running activities (rule evaluation, queue
// sweeps, single deletions) and broadcasts their state to connected clients.
package progress

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ActivityType identifies what kind of work an activity represents.
type ActivityType string

const (
	ActivityTypeEvaluation ActivityType = "evaluation"
	ActivityTypeSweep      ActivityType = "sweep"
	ActivityTypeDeletion   ActivityType = "deletion"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Indeterminate is the progress value of an activity without a known total.
const Indeterminate = -1

// Activity is the client-visible state of one unit of background work.
type Activity struct {
	ID          string         `json:"id"`
	Type        ActivityType   `json:"type"`
	Title       string         `json:"title"`
	Subtitle    string         `json:"subtitle"`
	Progress    int            `json:"progress"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	Metadata    map[string]any `json:"metadata"`
}

type EventType string

const (
	EventTypeStarted   EventType = "progress:started"
	EventTypeUpdate    EventType = "progress:update"
	EventTypeCompleted EventType = "progress:completed"
	EventTypeError     EventType = "progress:error"
	EventTypeCancelled EventType = "progress:cancelled"
)

// Broadcaster delivers events to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// How long finished activities stay listed for clients that connect late.
const (
	completedRetention = 5 * time.Second
	failedRetention    = 10 * time.Second
)

// Manager tracks and broadcasts progress for all activities.
type Manager struct {
	hub        Broadcaster
	activities map[string]*Activity
	mu         sync.RWMutex
	logger     zerolog.Logger
	now        func() time.Time
}

// NewManager creates a new progress manager. hub may be nil.
func NewManager(hub Broadcaster, logger zerolog.Logger) *Manager {
	return &Manager{
		hub:        hub,
		activities: make(map[string]*Activity),
		logger:     logger.With().Str("component", "progress").Logger(),
		now:        time.Now,
	}
}

// StartActivity begins tracking an activity. An empty id is replaced with a
// random one; starting an id that is already tracked restarts it.
func (m *Manager) StartActivity(id string, activityType ActivityType, title string) *Activity {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := &Activity{
		ID:        id,
		Type:      activityType,
		Title:     title,
		Subtitle:  "Starting...",
		Status:    StatusInProgress,
		StartedAt: m.now(),
		Metadata:  make(map[string]any),
	}
	m.activities[id] = a
	m.broadcast(EventTypeStarted, a)

	m.logger.Debug().Str("id", id).Str("type", string(activityType)).Str("title", title).Msg("Activity started")
	return a.snapshot()
}

// UpdateActivity sets the subtitle and progress of a running activity.
func (m *Manager) UpdateActivity(id, subtitle string, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.activities[id]
	if !ok || a.Status != StatusInProgress {
		return
	}
	a.Subtitle = subtitle
	a.Progress = progress
	m.broadcast(EventTypeUpdate, a)
}

// UpdateActivityMetadata records a key on the activity without broadcasting.
func (m *Manager) UpdateActivityMetadata(id, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.activities[id]; ok {
		a.Metadata[key] = value
	}
}

func (m *Manager) CompleteActivity(id, subtitle string) {
	m.finish(id, StatusCompleted, subtitle, "")
}

// FailActivity marks the activity failed and keeps errorMsg in its metadata.
func (m *Manager) FailActivity(id, errorMsg string) {
	m.finish(id, StatusFailed, errorMsg, errorMsg)
}

// CancelActivity marks the activity cancelled and stops listing it.
func (m *Manager) CancelActivity(id string) {
	m.finish(id, StatusCancelled, "Cancelled", "")
}

func (m *Manager) finish(id string, status Status, subtitle, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.activities[id]
	if !ok || a.Status != StatusInProgress {
		return
	}

	now := m.now()
	a.Status = status
	a.Subtitle = subtitle
	a.CompletedAt = &now

	event := m.logger.Debug().Str("id", id).Str("title", a.Title).Str("status", string(status))
	switch status {
	case StatusCompleted:
		a.Progress = 100
		m.broadcast(EventTypeCompleted, a)
		m.forgetAfter(id, completedRetention)
	case StatusFailed:
		a.Metadata["error"] = errorMsg
		m.broadcast(EventTypeError, a)
		m.forgetAfter(id, failedRetention)
		event = event.Str("error", errorMsg)
	case StatusCancelled:
		m.broadcast(EventTypeCancelled, a)
		delete(m.activities, id)
	}
	event.Dur("elapsed", now.Sub(a.StartedAt)).Msg("Activity finished")
}

// GetActivity returns a copy of an activity, or nil.
func (m *Manager) GetActivity(id string) *Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.activities[id]; ok {
		return a.snapshot()
	}
	return nil
}

// GetAllActivities returns copies of all tracked activities, oldest first.
func (m *Manager) GetAllActivities() []*Activity {
	return m.list(func(*Activity) bool { return true })
}

func (m *Manager) GetActivitiesByType(activityType ActivityType) []*Activity {
	return m.list(func(a *Activity) bool { return a.Type == activityType })
}

func (m *Manager) list(keep func(*Activity) bool) []*Activity {
	m.mu.RLock()
	result := make([]*Activity, 0, len(m.activities))
	for _, a := range m.activities {
		if keep(a) {
			result = append(result, a.snapshot())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// forgetAfter must be called with m.mu held.
func (m *Manager) forgetAfter(id string, d time.Duration) {
	time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if a, ok := m.activities[id]; ok && a.Status != StatusInProgress {
			delete(m.activities, id)
		}
	})
}

// broadcast must be called with m.mu held, so the payload is a copy.
func (m *Manager) broadcast(eventType EventType, a *Activity) {
	if m.hub == nil {
		return
	}
	if err := m.hub.Broadcast(string(eventType), a.snapshot()); err != nil {
		m.logger.Warn().Err(err).Str("id", a.ID).Msg("Failed to broadcast progress")
	}
}

func (a *Activity) snapshot() *Activity {
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	return &c
}

// ActivityBuilder is a handle on one activity for the code that runs it.
type ActivityBuilder struct {
	manager *Manager
	id      string
}

// NewActivityBuilder starts an activity and returns a handle on it.
func (m *Manager) NewActivityBuilder(id string, activityType ActivityType, title string) *ActivityBuilder {
	a := m.StartActivity(id, activityType, title)
	return &ActivityBuilder{manager: m, id: a.ID}
}

func (b *ActivityBuilder) Update(subtitle string, progress int) *ActivityBuilder {
	b.manager.UpdateActivity(b.id, subtitle, progress)
	return b
}

func (b *ActivityBuilder) SetMetadata(key string, value any) *ActivityBuilder {
	b.manager.UpdateActivityMetadata(b.id, key, value)
	return b
}

func (b *ActivityBuilder) Complete(subtitle string) { b.manager.CompleteActivity(b.id, subtitle) }

func (b *ActivityBuilder) Fail(errorMsg string) { b.manager.FailActivity(b.id, errorMsg) }

func (b *ActivityBuilder) Cancel() { b.manager.CancelActivity(b.id) }

func (b *ActivityBuilder) ID() string { return b.id }

// Percent converts done out of total into a 0-100 progress value.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
