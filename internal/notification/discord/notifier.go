package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/notification/types"
)

// Discord embed colors
const (
	ColorSuccess = 0x2ECC71 // Green
	ColorWarning = 0xF1C40F // Yellow
	ColorDanger  = 0xE74C3C // Red
	ColorInfo    = 0x3498DB // Blue
	ColorDefault = 0x7289DA // Discord blurple
)

// Settings contains Discord-specific configuration
type Settings struct {
	WebhookURL string `json:"webhookUrl" mapstructure:"webhook_url"`
	Username   string `json:"username,omitempty" mapstructure:"username"`
	AvatarURL  string `json:"avatarUrl,omitempty" mapstructure:"avatar_url"`
	Author     string `json:"author,omitempty" mapstructure:"author"`
}

// Notifier sends notifications to Discord via webhook
type Notifier struct {
	name       string
	settings   Settings
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new Discord notifier
func New(name string, settings Settings, httpClient *http.Client, logger zerolog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Notifier{
		name:       name,
		settings:   settings,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "discord").Str("name", name).Logger(),
	}
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierDiscord
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) Test(ctx context.Context) error {
	return n.send(ctx, n.payload(Embed{
		Title:       "Reclaimarr Test Notification",
		Description: "This is a test notification from Reclaimarr.",
		Color:       ColorInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}))
}

func (n *Notifier) OnDeletionCompleted(ctx context.Context, event types.DeletionEvent) error {
	fields := []EmbedField{
		{Name: "Type", Value: mediaTypeLabel(event.Media.Type), Inline: true},
		{Name: "Action", Value: actionLabel(event.DeletionAction), Inline: true},
		{Name: "Freed", Value: humanize.IBytes(uint64(max(event.FileSizeFreed, 0))), Inline: true},
	}
	if event.FilesDeleted > 0 {
		fields = append(fields, EmbedField{Name: "Files", Value: fmt.Sprintf("%d", event.FilesDeleted), Inline: true})
	}
	if event.Source != "" {
		fields = append(fields, EmbedField{Name: "Trigger", Value: event.Source, Inline: true})
	}
	if event.OverseerrReset {
		fields = append(fields, EmbedField{Name: "Overseerr", Value: "Request reset", Inline: true})
	}

	return n.send(ctx, n.payload(Embed{
		Title:       "Media Deleted",
		Description: truncate(event.Media.Title, 2048),
		Color:       ColorSuccess,
		Fields:      fields,
		Timestamp:   event.OccurredAt.UTC().Format(time.RFC3339),
	}))
}

func (n *Notifier) OnDeletionFailed(ctx context.Context, event types.DeletionEvent) error {
	fields := []EmbedField{
		{Name: "Type", Value: mediaTypeLabel(event.Media.Type), Inline: true},
		{Name: "Action", Value: actionLabel(event.DeletionAction), Inline: true},
	}
	if event.FilesFailed > 0 {
		fields = append(fields, EmbedField{
			Name:   "Files",
			Value:  fmt.Sprintf("%d deleted, %d failed", event.FilesDeleted, event.FilesFailed),
			Inline: true,
		})
	}
	if event.Error != "" {
		fields = append(fields, EmbedField{Name: "Error", Value: truncate(event.Error, 1024)})
	}

	return n.send(ctx, n.payload(Embed{
		Title:       "Deletion Failed",
		Description: truncate(event.Media.Title, 2048),
		Color:       ColorDanger,
		Fields:      fields,
		Timestamp:   event.OccurredAt.UTC().Format(time.RFC3339),
	}))
}

func (n *Notifier) OnRuleMatched(ctx context.Context, event types.RuleMatchEvent) error {
	fields := []EmbedField{
		{Name: "Rule", Value: truncate(event.RuleName, 1024), Inline: true},
		{Name: "Type", Value: mediaTypeLabel(event.Media.Type), Inline: true},
	}
	if event.Media.FileSize > 0 {
		fields = append(fields, EmbedField{Name: "Size", Value: humanize.IBytes(uint64(event.Media.FileSize)), Inline: true})
	}
	if len(event.Media.Genres) > 0 {
		fields = append(fields, EmbedField{Name: "Genres", Value: truncate(strings.Join(event.Media.Genres, ", "), 1024)})
	}

	return n.send(ctx, n.payload(Embed{
		Title:       "Rule Matched",
		Description: truncate(event.Media.Title, 2048),
		Color:       ColorWarning,
		Fields:      fields,
		Timestamp:   event.MatchedAt.UTC().Format(time.RFC3339),
	}))
}

func (n *Notifier) OnSweepCompleted(ctx context.Context, event types.SweepEvent) error {
	color := ColorSuccess
	if event.Failed > 0 {
		color = ColorWarning
	}

	return n.send(ctx, n.payload(Embed{
		Title: "Deletion Queue Processed",
		Color: color,
		Fields: []EmbedField{
			{Name: "Processed", Value: fmt.Sprintf("%d", event.Processed), Inline: true},
			{Name: "Deleted", Value: fmt.Sprintf("%d", event.Deleted), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", event.Failed), Inline: true},
			{Name: "Freed", Value: humanize.IBytes(uint64(max(event.FreedSpace, 0))), Inline: true},
		},
		Timestamp: event.CompletedAt.UTC().Format(time.RFC3339),
	}))
}

func (n *Notifier) payload(embed Embed) WebhookPayload {
	if n.settings.Author != "" {
		embed.Author = &EmbedAuthor{Name: n.settings.Author}
	}
	return WebhookPayload{
		Username:  n.getUsername(),
		AvatarURL: n.settings.AvatarURL,
		Embeds:    []Embed{embed},
	}
}

func (n *Notifier) getUsername() string {
	if n.settings.Username != "" {
		return n.settings.Username
	}
	return "Reclaimarr"
}

func (n *Notifier) send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}

	return nil
}

// WebhookPayload is the Discord webhook request body
type WebhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Embed is a Discord embed object
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedAuthor is the author section of an embed
type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedField is a field in an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer section of an embed
type EmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

func mediaTypeLabel(t string) string {
	switch t {
	case "movie":
		return "Movie"
	case "show":
		return "Show"
	case "episode":
		return "Episode"
	}
	return t
}

func actionLabel(action string) string {
	switch action {
	case "unmonitor_only":
		return "Unmonitor"
	case "delete_files_only":
		return "Delete files"
	case "unmonitor_and_delete":
		return "Unmonitor and delete"
	case "full_removal":
		return "Full removal"
	}
	return action
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
