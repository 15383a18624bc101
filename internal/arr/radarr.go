package arr

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Radarr is a client for the Radarr v3 API.
type Radarr struct {
	*client
}

// NewRadarr creates a Radarr client.
func NewRadarr(cfg Config, breaker BreakerConfig, logger zerolog.Logger, opts ...Option) (*Radarr, error) {
	c, err := newClient("radarr", "/api/v3/system/status", cfg, breaker, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Radarr{client: c}, nil
}

// UnmonitorMovie stops Radarr from monitoring (and re-downloading) a movie.
// The movie resource is round-tripped untouched apart from the flag.
func (r *Radarr) UnmonitorMovie(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/v3/movie/%d", id)

	var movie map[string]any
	if err := r.getJSON(ctx, path, &movie); err != nil {
		return fmt.Errorf("failed to get movie %d: %w", id, err)
	}
	if monitored, _ := movie["monitored"].(bool); !monitored {
		return nil
	}
	movie["monitored"] = false

	if _, err := r.do(ctx, http.MethodPut, path, movie); err != nil {
		return fmt.Errorf("failed to unmonitor movie %d: %w", id, err)
	}
	r.logger.Info().Int64("radarrId", id).Msg("Unmonitored movie")
	return nil
}

// DeleteMovie removes a movie from Radarr. Files on disk are left alone
// unless deleteFiles is set.
func (r *Radarr) DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error {
	path := fmt.Sprintf("/api/v3/movie/%d?deleteFiles=%t&addImportExclusion=false", id, deleteFiles)
	if _, err := r.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("failed to delete movie %d: %w", id, err)
	}
	r.logger.Info().Int64("radarrId", id).Msg("Removed movie")
	return nil
}
