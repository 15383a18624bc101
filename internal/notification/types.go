package notification

import (
	"time"

	"github.com/reclaimarr/reclaimarr/internal/notification/discord"
	"github.com/reclaimarr/reclaimarr/internal/notification/types"
	"github.com/reclaimarr/reclaimarr/internal/notification/webhook"
)

// Re-export types from the types sub-package
type (
	NotifierType = types.NotifierType
	Notifier     = types.Notifier
	EventType    = types.EventType

	MediaInfo      = types.MediaInfo
	DeletionEvent  = types.DeletionEvent
	RuleMatchEvent = types.RuleMatchEvent
	SweepEvent     = types.SweepEvent
)

// Re-export constants
const (
	NotifierDiscord = types.NotifierDiscord
	NotifierWebhook = types.NotifierWebhook
	NotifierMock    = types.NotifierMock

	EventDeletionCompleted = types.EventDeletionCompleted
	EventDeletionFailed    = types.EventDeletionFailed
	EventRuleMatched       = types.EventRuleMatched
	EventSweepCompleted    = types.EventSweepCompleted
)

// Config holds the notifiers built at startup. Notifiers are configured in
// the config file only; there is no runtime management.
type Config struct {
	// Timeout bounds a single delivery.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Discord DiscordConfig `json:"discord" mapstructure:"discord"`
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`
}

// DiscordConfig enables the Discord notifier.
type DiscordConfig struct {
	Enabled  bool             `json:"enabled" mapstructure:"enabled"`
	Events   []EventType      `json:"events,omitempty" mapstructure:"events"`
	Settings discord.Settings `json:"settings" mapstructure:",squash"`
}

// WebhookConfig enables the generic webhook notifier.
type WebhookConfig struct {
	Enabled  bool             `json:"enabled" mapstructure:"enabled"`
	Events   []EventType      `json:"events,omitempty" mapstructure:"events"`
	Settings webhook.Settings `json:"settings" mapstructure:",squash"`
}

// DefaultConfig returns a config with every notifier disabled.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// NotifierInfo describes a registered notifier.
type NotifierInfo struct {
	Name   string       `json:"name"`
	Type   NotifierType `json:"type"`
	Events []EventType  `json:"events"`
}

// TestResult contains the result of testing a notification
type TestResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
