// Package mock provides an in-memory notifier that records every event it
// receives.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/notification/types"
)

// NotificationRecord stores a sent notification
type NotificationRecord struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// Notifier is a mock notification provider. It logs every notification and
// keeps the most recent ones in memory.
type Notifier struct {
	name   string
	logger zerolog.Logger

	mu         sync.RWMutex
	records    []NotificationRecord
	nextID     int64
	maxRecords int
	err        error
	delay      time.Duration
}

// New creates a new mock notifier
func New(name string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		name:       name,
		logger:     logger.With().Str("notifier", "mock").Str("name", name).Logger(),
		records:    make([]NotificationRecord, 0),
		nextID:     1,
		maxRecords: 100,
	}
}

// FailWith makes every subsequent send record the event and then return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// SetDelay makes every send block for d or until its context is done.
func (n *Notifier) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierMock
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) Test(ctx context.Context) error {
	return n.record(ctx, "test", "Test Notification", "This is a test notification from the mock notifier", nil)
}

func (n *Notifier) OnDeletionCompleted(ctx context.Context, event types.DeletionEvent) error {
	return n.record(ctx, string(types.EventDeletionCompleted), "Media Deleted", event.Media.Title, event)
}

func (n *Notifier) OnDeletionFailed(ctx context.Context, event types.DeletionEvent) error {
	return n.record(ctx, string(types.EventDeletionFailed), "Deletion Failed", event.Media.Title+": "+event.Error, event)
}

func (n *Notifier) OnRuleMatched(ctx context.Context, event types.RuleMatchEvent) error {
	return n.record(ctx, string(types.EventRuleMatched), "Rule Matched", event.RuleName+": "+event.Media.Title, event)
}

func (n *Notifier) OnSweepCompleted(ctx context.Context, event types.SweepEvent) error {
	msg := fmt.Sprintf("%d processed, %d deleted, %d failed", event.Processed, event.Deleted, event.Failed)
	return n.record(ctx, string(types.EventSweepCompleted), "Deletion Queue Processed", msg, event)
}

// GetRecords returns all stored notification records
func (n *Notifier) GetRecords() []NotificationRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	records := make([]NotificationRecord, len(n.records))
	copy(records, n.records)
	return records
}

// Clear removes all stored notification records
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.records = make([]NotificationRecord, 0)
	n.nextID = 1
}

func (n *Notifier) record(ctx context.Context, eventType, title, message string, data any) error {
	n.mu.RLock()
	delay := n.delay
	n.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n.mu.Lock()
	record := NotificationRecord{
		ID:        n.nextID,
		EventType: eventType,
		Title:     title,
		Message:   message,
		Data:      data,
		SentAt:    time.Now(),
	}
	n.nextID++

	// Trim old records if we exceed max
	if len(n.records) >= n.maxRecords {
		n.records = n.records[1:]
	}
	n.records = append(n.records, record)
	err := n.err
	n.mu.Unlock()

	n.logger.Info().
		Str("eventType", eventType).
		Str("title", title).
		Str("message", message).
		Msg("Mock notification sent")

	return err
}
