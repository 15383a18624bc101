// Package types contains shared type definitions for notification packages.
package types

import (
	"context"
	"time"
)

// NotifierType identifies a notification provider
type NotifierType string

const (
	NotifierDiscord NotifierType = "discord"
	NotifierWebhook NotifierType = "webhook"
	NotifierMock    NotifierType = "mock"
)

// Notifier is the interface all notification providers must implement
type Notifier interface {
	Type() NotifierType
	Name() string
	Test(ctx context.Context) error

	OnDeletionCompleted(ctx context.Context, event DeletionEvent) error
	OnDeletionFailed(ctx context.Context, event DeletionEvent) error
	OnRuleMatched(ctx context.Context, event RuleMatchEvent) error
	OnSweepCompleted(ctx context.Context, event SweepEvent) error
}

// EventType identifies the type of notification event
type EventType string

const (
	EventDeletionCompleted EventType = "deletion_completed"
	EventDeletionFailed    EventType = "deletion_failed"
	EventRuleMatched       EventType = "rule_matched"
	EventSweepCompleted    EventType = "sweep_completed"
)

// AllEventTypes lists every event a notifier can subscribe to.
var AllEventTypes = []EventType{EventDeletionCompleted, EventDeletionFailed, EventRuleMatched, EventSweepCompleted}

// MediaInfo contains common media metadata for events
type MediaInfo struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	TMDbID   int64    `json:"tmdbId,omitempty"`
	TVDbID   int64    `json:"tvdbId,omitempty"`
	IMDbID   string   `json:"imdbId,omitempty"`
	FileSize int64    `json:"fileSize,omitempty"`
	Genres   []string `json:"genres,omitempty"`
}

// DeletionEvent is sent when a queued item was deleted or failed to delete.
type DeletionEvent struct {
	Media          MediaInfo `json:"media"`
	DeletionAction string    `json:"deletionAction"`
	Source         string    `json:"source"`
	FileSizeFreed  int64     `json:"fileSizeFreed"`
	FilesDeleted   int       `json:"filesDeleted"`
	FilesFailed    int       `json:"filesFailed"`
	OverseerrReset bool      `json:"overseerrReset"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// RuleMatchEvent is sent when a notify rule matches an item.
type RuleMatchEvent struct {
	Media     MediaInfo `json:"media"`
	RuleID    int64     `json:"ruleId"`
	RuleName  string    `json:"ruleName"`
	Reason    string    `json:"reason,omitempty"`
	MatchedAt time.Time `json:"matchedAt"`
}

// SweepEvent summarizes one pass of the queue processor.
type SweepEvent struct {
	Processed   int           `json:"processed"`
	Deleted     int           `json:"deleted"`
	Failed      int           `json:"failed"`
	FreedSpace  int64         `json:"freedSpace"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completedAt"`
}
