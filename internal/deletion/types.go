// Package deletion carries out the destructive part of a retention decision:
// unmonitoring in Sonarr/Radarr, removing files and resetting Overseerr
// requests.
package deletion

import (
	"context"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

// Stage is a step of a deletion. Stages are emitted in declaration order;
// error may follow any of them.
type Stage string

const (
	StageStarting           Stage = "starting"
	StageUnmonitoring       Stage = "unmonitoring"
	StageDeletingFiles      Stage = "deleting_files"
	StageResettingOverseerr Stage = "resetting_overseerr"
	StageComplete           Stage = "complete"
	StageError              Stage = "error"
)

// Terminal reports whether no event follows a stage.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// FileStatus is the state of one file within the deleting_files stage.
type FileStatus string

const (
	FileDeleting FileStatus = "deleting"
	FileDeleted  FileStatus = "deleted"
	FileFailed   FileStatus = "failed"
)

// FileProgress describes one file event.
type FileProgress struct {
	Current  int        `json:"current"`
	Total    int        `json:"total"`
	FileName string     `json:"fileName"`
	Status   FileStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
}

// Result is the aggregate outcome of deleting one item.
type Result struct {
	Success        bool   `json:"success"`
	FileSizeFreed  int64  `json:"fileSizeFreed"`
	FilesDeleted   int    `json:"filesDeleted"`
	FilesFailed    int    `json:"filesFailed"`
	Unmonitored    bool   `json:"unmonitored"`
	Removed        bool   `json:"removed"`
	OverseerrReset bool   `json:"overseerrReset"`
	Error          string `json:"error,omitempty"`
}

// Event is one progress report. Result is set on the terminal stage only.
type Event struct {
	Stage   Stage         `json:"stage"`
	Message string        `json:"message"`
	File    *FileProgress `json:"file,omitempty"`
	Result  *Result       `json:"result,omitempty"`
}

// EmitFunc receives progress events. It is called synchronously from the
// executing goroutine.
type EmitFunc func(Event)

// Executor performs deletions.
type Executor interface {
	// Execute deletes item according to action.
	Execute(ctx context.Context, item *media.Item, action media.DeletionAction) (*Result, error)

	// ExecuteStream behaves like Execute and reports every stage to emit.
	// The last event emitted is always complete or error.
	ExecuteStream(ctx context.Context, item *media.Item, action media.DeletionAction, emit EmitFunc) (*Result, error)
}
