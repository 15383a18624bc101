package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/notification/types"
)

// Settings contains webhook-specific configuration
type Settings struct {
	URL            string            `json:"url" mapstructure:"url"`
	Method         string            `json:"method,omitempty" mapstructure:"method"`
	Username       string            `json:"username,omitempty" mapstructure:"username"`
	Password       string            `json:"password,omitempty" mapstructure:"password"`
	Headers        map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	ApplicationURL string            `json:"applicationUrl,omitempty" mapstructure:"application_url"`
}

// Notifier sends notifications to a custom webhook endpoint
type Notifier struct {
	name       string
	settings   Settings
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new webhook notifier
func New(name string, settings Settings, httpClient *http.Client, logger zerolog.Logger) *Notifier {
	if settings.Method == "" {
		settings.Method = http.MethodPost
	}
	settings.Method = strings.ToUpper(settings.Method)
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Notifier{
		name:       name,
		settings:   settings,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "webhook").Str("name", name).Logger(),
	}
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierWebhook
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) Test(ctx context.Context) error {
	return n.send(ctx, Payload{
		EventType: "test",
		Timestamp: time.Now().UTC(),
		Message:   "This is a test notification from Reclaimarr.",
	})
}

func (n *Notifier) OnDeletionCompleted(ctx context.Context, event types.DeletionEvent) error {
	return n.send(ctx, Payload{
		EventType: string(types.EventDeletionCompleted),
		Timestamp: event.OccurredAt.UTC(),
		Message:   fmt.Sprintf("Deleted %s", event.Media.Title),
		Media:     mapMedia(event.Media),
		Deletion:  mapDeletion(event),
	})
}

func (n *Notifier) OnDeletionFailed(ctx context.Context, event types.DeletionEvent) error {
	return n.send(ctx, Payload{
		EventType: string(types.EventDeletionFailed),
		Timestamp: event.OccurredAt.UTC(),
		Message:   fmt.Sprintf("Failed to delete %s", event.Media.Title),
		Media:     mapMedia(event.Media),
		Deletion:  mapDeletion(event),
	})
}

func (n *Notifier) OnRuleMatched(ctx context.Context, event types.RuleMatchEvent) error {
	return n.send(ctx, Payload{
		EventType: string(types.EventRuleMatched),
		Timestamp: event.MatchedAt.UTC(),
		Message:   event.Reason,
		Media:     mapMedia(event.Media),
		Rule:      &PayloadRule{ID: event.RuleID, Name: event.RuleName},
	})
}

func (n *Notifier) OnSweepCompleted(ctx context.Context, event types.SweepEvent) error {
	return n.send(ctx, Payload{
		EventType: string(types.EventSweepCompleted),
		Timestamp: event.CompletedAt.UTC(),
		Message:   fmt.Sprintf("Processed %d queued item(s)", event.Processed),
		Sweep: &PayloadSweep{
			Processed:  event.Processed,
			Deleted:    event.Deleted,
			Failed:     event.Failed,
			FreedSpace: event.FreedSpace,
			DurationMs: event.Duration.Milliseconds(),
		},
	})
}

func (n *Notifier) send(ctx context.Context, payload Payload) error {
	payload.InstanceName = "Reclaimarr"
	payload.ApplicationURL = n.settings.ApplicationURL

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.settings.Method, n.settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Add basic auth if configured
	if n.settings.Username != "" && n.settings.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(n.settings.Username + ":" + n.settings.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	for key, value := range n.settings.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func mapMedia(m types.MediaInfo) *PayloadMedia {
	return &PayloadMedia{
		ID:       m.ID,
		Title:    m.Title,
		Type:     m.Type,
		TMDbID:   m.TMDbID,
		TVDbID:   m.TVDbID,
		IMDbID:   m.IMDbID,
		FileSize: m.FileSize,
	}
}

func mapDeletion(e types.DeletionEvent) *PayloadDeletion {
	return &PayloadDeletion{
		Action:         e.DeletionAction,
		Source:         e.Source,
		FileSizeFreed:  e.FileSizeFreed,
		FilesDeleted:   e.FilesDeleted,
		FilesFailed:    e.FilesFailed,
		OverseerrReset: e.OverseerrReset,
		Error:          e.Error,
	}
}

// Payload is the webhook request body
type Payload struct {
	EventType      string           `json:"eventType"`
	InstanceName   string           `json:"instanceName"`
	ApplicationURL string           `json:"applicationUrl,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Message        string           `json:"message,omitempty"`
	Media          *PayloadMedia    `json:"media,omitempty"`
	Deletion       *PayloadDeletion `json:"deletion,omitempty"`
	Rule           *PayloadRule     `json:"rule,omitempty"`
	Sweep          *PayloadSweep    `json:"sweep,omitempty"`
}

type PayloadMedia struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	TMDbID   int64  `json:"tmdbId,omitempty"`
	TVDbID   int64  `json:"tvdbId,omitempty"`
	IMDbID   string `json:"imdbId,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type PayloadDeletion struct {
	Action         string `json:"action"`
	Source         string `json:"source,omitempty"`
	FileSizeFreed  int64  `json:"fileSizeFreed"`
	FilesDeleted   int    `json:"filesDeleted"`
	FilesFailed    int    `json:"filesFailed"`
	OverseerrReset bool   `json:"overseerrReset"`
	Error          string `json:"error,omitempty"`
}

type PayloadRule struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type PayloadSweep struct {
	Processed  int   `json:"processed"`
	Deleted    int   `json:"deleted"`
	Failed     int   `json:"failed"`
	FreedSpace int64 `json:"freedSpace"`
	DurationMs int64 `json:"durationMs"`
}
