package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/database"
)

// Service provides history management functionality.
type Service struct {
	db        *sql.DB
	logger    zerolog.Logger
	now       func() time.Time
	retention RetentionSettings
}

// NewService creates a new history service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		logger:    logger.With().Str("component", "history").Logger(),
		now:       time.Now,
		retention: DefaultRetentionSettings(),
	}
}

// Create creates a new history entry.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Entry, error) {
	var dataJSON sql.NullString
	if input.Data != nil {
		bytes, err := json.Marshal(input.Data)
		if err != nil {
			return nil, err
		}
		dataJSON = sql.NullString{String: string(bytes), Valid: true}
	}

	createdAt := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO history
		(event_type, media_type, media_id, media_title, source, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(input.EventType), string(input.MediaType), input.MediaID, input.MediaTitle,
		input.Source, dataJSON, database.ToMillis(createdAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create history entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Entry{
		ID:         id,
		EventType:  input.EventType,
		MediaType:  input.MediaType,
		MediaID:    input.MediaID,
		MediaTitle: input.MediaTitle,
		Source:     input.Source,
		Data:       input.Data,
		CreatedAt:  createdAt.UTC().Format(time.RFC3339),
	}, nil
}

// List lists history entries with pagination and filtering.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}

	var where []string
	var args []any
	if opts.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, opts.EventType)
	}
	if opts.MediaType != "" {
		where = append(where, "media_type = ?")
		args = append(args, opts.MediaType)
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`+filter, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	offset := (opts.Page - 1) * opts.PageSize
	entries, err := s.query(ctx,
		`SELECT id, event_type, media_type, media_id, media_title, source, data, created_at
		FROM history`+filter+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, offset)...)
	if err != nil {
		return nil, err
	}

	totalPages := int(totalCount) / opts.PageSize
	if int(totalCount)%opts.PageSize > 0 {
		totalPages++
	}

	return &ListResponse{
		Items:      entries,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}, nil
}

// ListByMedia lists history for a specific media item, newest first.
func (s *Service) ListByMedia(ctx context.Context, mediaType MediaType, mediaID int64) ([]*Entry, error) {
	return s.query(ctx,
		`SELECT id, event_type, media_type, media_id, media_title, source, data, created_at
		FROM history WHERE media_type = ? AND media_id = ? ORDER BY created_at DESC, id DESC`,
		string(mediaType), mediaID)
}

// DeleteAll deletes all history entries.
func (s *Service) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			entry     Entry
			eventType string
			mediaType string
			data      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &eventType, &mediaType, &entry.MediaID, &entry.MediaTitle,
			&entry.Source, &data, &createdAt); err != nil {
			return nil, err
		}
		entry.EventType = EventType(eventType)
		entry.MediaType = MediaType(mediaType)
		entry.CreatedAt = database.FromMillis(createdAt).UTC().Format(time.RFC3339)
		if data.Valid {
			var m map[string]any
			if err := json.Unmarshal([]byte(data.String), &m); err == nil {
				entry.Data = m
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Log records an event with a structured payload. A payload that cannot be
// encoded is dropped with a warning rather than losing the event.
func (s *Service) Log(ctx context.Context, eventType EventType, mediaType MediaType, mediaID int64, title, source string, data any) error {
	var dataMap map[string]any
	if data != nil {
		var err error
		dataMap, err = ToJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("eventType", string(eventType)).Msg("Failed to marshal history data")
			dataMap = nil
		}
	}

	_, err := s.Create(ctx, CreateInput{
		EventType:  eventType,
		MediaType:  mediaType,
		MediaID:    mediaID,
		MediaTitle: title,
		Source:     source,
		Data:       dataMap,
	})
	return err
}
