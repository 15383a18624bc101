package history

import "encoding/json"

// EventType represents the type of history event.
type EventType string

const (
	EventTypeMarked         EventType = "marked"
	EventTypeUnmarked       EventType = "unmarked"
	EventTypeProtected      EventType = "protected"
	EventTypeUnprotected    EventType = "unprotected"
	EventTypeDeleted        EventType = "deleted"
	EventTypeDeletionFailed EventType = "deletion_failed"
	// Matches of notify rules, which never change the queue.
	EventTypeRuleMatched EventType = "rule_matched"
)

// MediaType represents the type of media.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
)

// Source values recorded with entries.
const (
	SourceRule      = "rule"
	SourceManual    = "manual"
	SourceSweep     = "sweep"
	SourceImmediate = "delete_now"
)

// Entry represents a history entry.
type Entry struct {
	ID         int64          `json:"id"`
	EventType  EventType      `json:"eventType"`
	MediaType  MediaType      `json:"mediaType"`
	MediaID    int64          `json:"mediaId"`
	MediaTitle string         `json:"mediaTitle,omitempty"`
	Source     string         `json:"source,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// CreateInput contains fields for creating a history entry.
type CreateInput struct {
	EventType  EventType
	MediaType  MediaType
	MediaID    int64
	MediaTitle string
	Source     string
	Data       map[string]any
}

// ListOptions contains options for listing history.
type ListOptions struct {
	EventType string
	MediaType string
	Page      int
	PageSize  int
}

// ListResponse contains paginated history results.
type ListResponse struct {
	Items      []*Entry `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalCount int64    `json:"totalCount"`
	TotalPages int      `json:"totalPages"`
}

// MarkedData is recorded when an item enters the deletion queue.
type MarkedData struct {
	RuleID         *int64 `json:"ruleId,omitempty"`
	RuleName       string `json:"ruleName,omitempty"`
	DeletionAction string `json:"deletionAction"`
	DeleteAfter    string `json:"deleteAfter"`
	Requeued       bool   `json:"requeued,omitempty"`
}

// ReasonData carries a human-readable reason for a transition.
type ReasonData struct {
	Reason string `json:"reason,omitempty"`
}

// DeletedData is recorded for completed and failed deletions.
type DeletedData struct {
	DeletionAction string `json:"deletionAction"`
	FileSizeFreed  int64  `json:"fileSizeFreed"`
	FilesDeleted   int    `json:"filesDeleted"`
	FilesFailed    int    `json:"filesFailed,omitempty"`
	OverseerrReset bool   `json:"overseerrReset,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ToJSON converts a data struct to a JSON map.
func ToJSON(v any) (map[string]any, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}
