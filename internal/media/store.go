package media

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/database"
)

const itemColumns = `id, title, type, plex_rating_key, sonarr_id, radarr_id, tmdb_id, tvdb_id, imdb_id,
	file_size, resolution, play_count, last_watched_at, added_at, rating, genres, tags, in_progress,
	status, marked_at, delete_after, deletion_action, reset_external_request, matched_rule_id,
	is_protected, protection_reason, created_at, updated_at`

// Store persists media items in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a new media store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "media").Logger(),
		now:    time.Now,
	}
}

// GetByID returns a media item with its files.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get media item: %w", err)
	}

	if err := s.attachFiles(ctx, []*Item{item}); err != nil {
		return nil, err
	}
	return item, nil
}

// GetItemsForEvaluation returns every item that rule evaluation may act on,
// ordered by id. Deleted items are excluded. A limit <= 0 means no limit.
func (s *Store) GetItemsForEvaluation(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `SELECT `+itemColumns+` FROM media_items
		WHERE status != 'deleted' ORDER BY id LIMIT ?`, limit)
}

// ListExpired returns queued items whose grace period ended at or before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*Item, error) {
	items, err := s.query(ctx, `SELECT `+itemColumns+` FROM media_items
		WHERE status = 'pending_deletion' AND delete_after <= ?
		ORDER BY delete_after, id`, database.ToMillis(now))
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// ListPending returns the whole deletion queue ordered by expiry.
func (s *Store) ListPending(ctx context.Context) ([]*Item, error) {
	items, err := s.query(ctx, `SELECT `+itemColumns+` FROM media_items
		WHERE status = 'pending_deletion' ORDER BY delete_after, id`)
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// List returns items with optional filtering and pagination.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Item, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}

	var where []string
	var args []any
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}

	q := `SELECT ` + itemColumns + ` FROM media_items`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	return s.query(ctx, q, args...)
}

// Upsert inserts a new item (ID == 0) or refreshes the library metadata of an
// existing one. Lifecycle, queue and protection fields are never touched here;
// those only change through Update. Files are replaced wholesale.
func (s *Store) Upsert(ctx context.Context, item *Item) (*Item, error) {
	if item == nil || item.Title == "" {
		return nil, ErrInvalidItem
	}
	switch item.Type {
	case TypeMovie, TypeShow, TypeEpisode:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidItem, item.Type)
	}

	genres, err := json.Marshal(nonNil(item.Genres))
	if err != nil {
		return nil, err
	}
	tags, err := json.Marshal(nonNil(item.Tags))
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := database.ToMillis(s.now())
	id := item.ID

	if id == 0 {
		status := item.Status
		if status == "" {
			status = StatusMonitored
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO media_items (
			title, type, plex_rating_key, sonarr_id, radarr_id, tmdb_id, tvdb_id, imdb_id,
			file_size, resolution, play_count, last_watched_at, added_at, rating, genres, tags,
			in_progress, status, is_protected, protection_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.Title, string(item.Type), nullString(item.PlexRatingKey), nullInt(item.SonarrID),
			nullInt(item.RadarrID), nullInt(item.TmdbID), nullInt(item.TvdbID), nullString(item.ImdbID),
			nullInt(item.FileSize), item.Resolution, item.PlayCount,
			database.NullMillis(item.LastWatchedAt), database.NullMillis(item.AddedAt),
			nullFloat(item.Rating), string(genres), string(tags), database.BoolToInt(item.InProgress),
			string(status), database.BoolToInt(item.IsProtected), nullStringPtr(item.ProtectionReason),
			now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert media item: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE media_items SET
			title = ?, type = ?, plex_rating_key = ?, sonarr_id = ?, radarr_id = ?, tmdb_id = ?,
			tvdb_id = ?, imdb_id = ?, file_size = ?, resolution = ?, play_count = ?,
			last_watched_at = ?, added_at = ?, rating = ?, genres = ?, tags = ?, in_progress = ?,
			updated_at = ?
			WHERE id = ?`,
			item.Title, string(item.Type), nullString(item.PlexRatingKey), nullInt(item.SonarrID),
			nullInt(item.RadarrID), nullInt(item.TmdbID), nullInt(item.TvdbID), nullString(item.ImdbID),
			nullInt(item.FileSize), item.Resolution, item.PlayCount,
			database.NullMillis(item.LastWatchedAt), database.NullMillis(item.AddedAt),
			nullFloat(item.Rating), string(genres), string(tags), database.BoolToInt(item.InProgress),
			now, id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update media item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrItemNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM media_files WHERE media_item_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to clear media files: %w", err)
	}
	for _, f := range item.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO media_files (media_item_id, path, size) VALUES (?, ?, ?)`,
			id, f.Path, f.Size,
		); err != nil {
			return nil, fmt.Errorf("failed to insert media file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit media item: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Update applies patch to a single item in one statement and returns the
// updated item. Concurrent callers racing on the same id never need a lock:
// each patch is a self-contained read-modify-write evaluated by SQLite
// against the current row, and its guards are part of the WHERE clause.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (*Item, error) {
	sets := []string{"updated_at = ?"}
	args := []any{database.ToMillis(s.now())}
	where := "id = ? AND status != 'deleted'"

	switch {
	case patch.Enqueue != nil:
		q := patch.Enqueue
		if q.GracePeriod < 0 {
			return nil, fmt.Errorf("%w: negative grace period", ErrInvalidItem)
		}
		// SET expressions see the row as it was before the update, so the
		// CASE keeps the original marked_at of an already queued item and
		// the deadline is always measured from it.
		const keptMarkedAt = `CASE WHEN status = 'pending_deletion' AND marked_at IS NOT NULL THEN marked_at ELSE ? END`
		marked := database.ToMillis(q.MarkedAt)
		sets = append(sets,
			"status = 'pending_deletion'",
			"marked_at = "+keptMarkedAt,
			"delete_after = "+keptMarkedAt+" + ?",
			"deletion_action = ?",
			"reset_external_request = ?",
			"matched_rule_id = ?",
		)
		args = append(args, marked, marked, q.GracePeriod.Milliseconds(),
			string(q.DeletionAction), database.BoolToInt(q.ResetExternalRequest), nullInt(q.MatchedRuleID))
		where += " AND is_protected = 0"
	case patch.Status != nil:
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}

	if patch.RequireQueued {
		where += " AND status = 'pending_deletion'"
	}

	if patch.ClearQueue && patch.Enqueue == nil {
		sets = append(sets, clearQueueSets...)
	}

	if p := patch.Protection; p != nil {
		sets = append(sets, "is_protected = ?", "protection_reason = ?")
		args = append(args, database.BoolToInt(p.IsProtected), nullStringPtr(p.Reason))
		if p.IsProtected && patch.Enqueue == nil {
			// Protection always evicts an active deletion schedule.
			if patch.Status == nil {
				sets = append(sets, "status = CASE WHEN status = 'pending_deletion' THEN 'monitored' ELSE status END")
			}
			if !patch.ClearQueue {
				sets = append(sets, clearQueueSets...)
			}
		}
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE media_items SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update media item %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, s.refusal(ctx, id, patch)
	}

	return s.GetByID(ctx, id)
}

// refusal explains why a guarded update matched no row.
func (s *Store) refusal(ctx context.Context, id int64, patch Patch) error {
	var (
		status    string
		protected int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, is_protected FROM media_items WHERE id = ?`, id,
	).Scan(&status, &protected)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrItemNotFound
	case err != nil:
		return fmt.Errorf("failed to read media item %d: %w", id, err)
	case Status(status) == StatusDeleted:
		return ErrItemDeleted
	case patch.Enqueue != nil && protected != 0:
		return ErrItemProtected
	case patch.RequireQueued && Status(status) != StatusPendingDeletion:
		return ErrItemNotQueued
	}
	// The row changed back between the update and this read.
	return fmt.Errorf("media item %d changed concurrently, retry", id)
}

// Count returns the number of items in the given status, or all items when
// status is empty.
func (s *Store) Count(ctx context.Context, status Status) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var clearQueueSets = []string{
	"marked_at = NULL",
	"delete_after = NULL",
	"deletion_action = NULL",
	"reset_external_request = 0",
	"matched_rule_id = NULL",
}
