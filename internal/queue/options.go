// Package queue owns the deletion queue: moving media items in and out of
// pending_deletion, protecting them, and executing deletions once their grace
// period has run out.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/notification"
	"github.com/reclaimarr/reclaimarr/internal/progress"
)

// Store is the media persistence used by the queue.
type Store interface {
	GetByID(ctx context.Context, id int64) (*media.Item, error)
	Update(ctx context.Context, id int64, patch media.Patch) (*media.Item, error)
	ListPending(ctx context.Context) ([]*media.Item, error)
	ListExpired(ctx context.Context, now time.Time) ([]*media.Item, error)
}

// History records queue transitions.
type History interface {
	LogMarked(ctx context.Context, item *media.Item, source string, data history.MarkedData) error
	LogUnmarked(ctx context.Context, item *media.Item, source, reason string) error
	LogProtected(ctx context.Context, item *media.Item, source, reason string) error
	LogUnprotected(ctx context.Context, item *media.Item, source string) error
	LogDeleted(ctx context.Context, item *media.Item, source string, data history.DeletedData) error
	LogDeletionFailed(ctx context.Context, item *media.Item, source string, data history.DeletedData) error
}

// Notifier receives deletion outcomes. Calls must not block and their
// failures never reach the queue.
type Notifier interface {
	DeletionCompleted(ctx context.Context, item *media.Item, action media.DeletionAction, source string, result *deletion.Result)
	DeletionFailed(ctx context.Context, item *media.Item, action media.DeletionAction, source string, result *deletion.Result, err error)
	SweepCompleted(ctx context.Context, event notification.SweepEvent)
}

// Broadcaster pushes queue changes to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// Broadcast message types.
const (
	EventItemMarked      = "queue:marked"
	EventItemRemoved     = "queue:removed"
	EventItemProtected   = "queue:protected"
	EventItemUnprotected = "queue:unprotected"
	EventItemDeleted     = "queue:deleted"
	EventSweepCompleted  = "queue:swept"
)

// Config holds queue defaults.
type Config struct {
	// DefaultGracePeriodDays applies to manual marks that give none.
	DefaultGracePeriodDays int `json:"defaultGracePeriodDays" mapstructure:"default_grace_period_days"`
	// DefaultDeletionAction applies when neither the mark nor the item has one.
	DefaultDeletionAction media.DeletionAction `json:"defaultDeletionAction" mapstructure:"default_deletion_action"`
	// ItemTimeout bounds the deletion of one item during a sweep.
	ItemTimeout time.Duration `json:"itemTimeout" mapstructure:"item_timeout"`
	// StreamBuffer is the capacity of a DeleteNow event channel.
	StreamBuffer int `json:"streamBuffer" mapstructure:"stream_buffer"`
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		DefaultGracePeriodDays: 7,
		DefaultDeletionAction:  media.ActionUnmonitorAndDelete,
		ItemTimeout:            30 * time.Second,
		StreamBuffer:           16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultGracePeriodDays < 0 {
		c.DefaultGracePeriodDays = d.DefaultGracePeriodDays
	}
	if !c.DefaultDeletionAction.Valid() {
		c.DefaultDeletionAction = d.DefaultDeletionAction
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	return c
}

// collaborators are the optional dependencies shared by Service and Processor.
type collaborators struct {
	history     History
	notifier    Notifier
	broadcaster Broadcaster
	progress    *progress.Manager
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Service or Processor.
type Option func(*collaborators)

// WithHistory records transitions in h.
func WithHistory(h History) Option {
	return func(c *collaborators) { c.history = h }
}

// WithNotifier reports deletions to n.
func WithNotifier(n Notifier) Option {
	return func(c *collaborators) { c.notifier = n }
}

// WithBroadcaster pushes queue changes to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *collaborators) { c.broadcaster = b }
}

// WithProgress tracks sweeps and deletions in m.
func WithProgress(m *progress.Manager) Option {
	return func(c *collaborators) { c.progress = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *collaborators) { c.now = now }
}

func newCollaborators(logger zerolog.Logger, opts []Option) collaborators {
	c := collaborators{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Outcomes are recorded even when the request that caused them was
// cancelled, so history and notifications run on a detached context.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (c *collaborators) broadcast(msgType string, payload any) {
	if c.broadcaster == nil {
		return
	}
	if err := c.broadcaster.Broadcast(msgType, payload); err != nil {
		c.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to broadcast queue event")
	}
}

func (c *collaborators) record(what string, itemID int64, err error) {
	if err != nil {
		c.logger.Warn().Err(err).Int64("itemId", itemID).Str("event", what).Msg("Failed to record history")
	}
}
