package media

import (
	"errors"
	"time"
)

var (
	ErrItemNotFound  = errors.New("media item not found")
	ErrItemProtected = errors.New("media item is protected")
	ErrItemDeleted   = errors.New("media item has been deleted")
	ErrItemNotQueued = errors.New("media item is not pending deletion")
	ErrInvalidItem   = errors.New("invalid media item")
)

// Type classifies a media item.
type Type string

const (
	TypeMovie   Type = "movie"
	TypeShow    Type = "show"
	TypeEpisode Type = "episode"
)

// Status is the lifecycle state of a media item.
type Status string

const (
	StatusMonitored       Status = "monitored"
	StatusFlagged         Status = "flagged"
	StatusPendingDeletion Status = "pending_deletion"
	StatusProtected       Status = "protected"
	StatusDeleted         Status = "deleted"
)

// DeletionAction describes how much external cleanup a deletion performs.
// The engine only carries it; the deletion executor interprets it.
type DeletionAction string

const (
	ActionUnmonitorOnly      DeletionAction = "unmonitor_only"
	ActionDeleteFilesOnly    DeletionAction = "delete_files_only"
	ActionUnmonitorAndDelete DeletionAction = "unmonitor_and_delete"
	ActionFullRemoval        DeletionAction = "full_removal"
)

// Valid reports whether a is a known deletion action.
func (a DeletionAction) Valid() bool {
	switch a {
	case ActionUnmonitorOnly, ActionDeleteFilesOnly, ActionUnmonitorAndDelete, ActionFullRemoval:
		return true
	}
	return false
}

// Unmonitors reports whether the action stops the manager from monitoring the item.
func (a DeletionAction) Unmonitors() bool {
	return a == ActionUnmonitorOnly || a == ActionUnmonitorAndDelete || a == ActionFullRemoval
}

// DeletesFiles reports whether the action removes files from disk.
func (a DeletionAction) DeletesFiles() bool {
	return a == ActionDeleteFilesOnly || a == ActionUnmonitorAndDelete || a == ActionFullRemoval
}

// File is a file on disk that belongs to a media item.
type File struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Item is the unit of retention decisions.
type Item struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  Type   `json:"type"`

	// External ids, used only by collaborators.
	PlexRatingKey string `json:"plexRatingKey,omitempty"`
	SonarrID      *int64 `json:"sonarrId,omitempty"`
	RadarrID      *int64 `json:"radarrId,omitempty"`
	TmdbID        *int64 `json:"tmdbId,omitempty"`
	TvdbID        *int64 `json:"tvdbId,omitempty"`
	ImdbID        string `json:"imdbId,omitempty"`

	FileSize      *int64     `json:"fileSize,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
	PlayCount     int        `json:"playCount"`
	LastWatchedAt *time.Time `json:"lastWatchedAt,omitempty"`
	AddedAt       *time.Time `json:"addedAt,omitempty"`
	Rating        *float64   `json:"rating,omitempty"`
	Genres        []string   `json:"genres"`
	Tags          []string   `json:"tags"`
	InProgress    bool       `json:"inProgress"`

	Status Status `json:"status"`

	// Queue fields, populated only while Status is pending_deletion.
	MarkedAt             *time.Time     `json:"markedAt,omitempty"`
	DeleteAfter          *time.Time     `json:"deleteAfter,omitempty"`
	DeletionAction       DeletionAction `json:"deletionAction,omitempty"`
	ResetExternalRequest bool           `json:"resetExternalRequest"`
	MatchedRuleID        *int64         `json:"matchedRuleId,omitempty"`

	IsProtected      bool    `json:"isProtected"`
	ProtectionReason *string `json:"protectionReason,omitempty"`

	Files []File `json:"files,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsQueued reports whether the item currently sits in the deletion queue.
func (i *Item) IsQueued() bool {
	return i.Status == StatusPendingDeletion
}

// QueueState holds the fields written when an item enters the deletion queue.
// DeleteAfter is stored as the item's effective markedAt plus GracePeriod.
type QueueState struct {
	MarkedAt             time.Time
	GracePeriod          time.Duration
	DeletionAction       DeletionAction
	ResetExternalRequest bool
	MatchedRuleID        *int64
}

// Protection holds the fields written by protect and unprotect.
type Protection struct {
	IsProtected bool
	Reason      *string
}

// Patch is a partial update applied by Store.Update. Nil fields are left
// untouched. A deleted item is final: every patch on it fails with
// ErrItemDeleted.
type Patch struct {
	Status *Status

	// Enqueue moves the item into pending_deletion. An existing MarkedAt is
	// preserved when the item is already queued, and protected rows are refused
	// with ErrItemProtected.
	Enqueue *QueueState

	// ClearQueue empties every queue field.
	ClearQueue bool

	// RequireQueued applies the patch only while the item is pending
	// deletion; otherwise Update fails with ErrItemNotQueued.
	RequireQueued bool

	Protection *Protection
}

// ListOptions filters Store.List.
type ListOptions struct {
	Status   Status
	Type     Type
	Page     int
	PageSize int
}
