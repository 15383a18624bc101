package arr

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Sonarr is a client for the Sonarr v3 API.
type Sonarr struct {
	*client
}

// NewSonarr creates a Sonarr client.
func NewSonarr(cfg Config, breaker BreakerConfig, logger zerolog.Logger, opts ...Option) (*Sonarr, error) {
	c, err := newClient("sonarr", "/api/v3/system/status", cfg, breaker, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Sonarr{client: c}, nil
}

// UnmonitorSeries stops Sonarr from monitoring a series and all its seasons.
func (s *Sonarr) UnmonitorSeries(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/v3/series/%d", id)

	var series map[string]any
	if err := s.getJSON(ctx, path, &series); err != nil {
		return fmt.Errorf("failed to get series %d: %w", id, err)
	}
	series["monitored"] = false
	if seasons, ok := series["seasons"].([]any); ok {
		for _, season := range seasons {
			if m, ok := season.(map[string]any); ok {
				m["monitored"] = false
			}
		}
	}

	if _, err := s.do(ctx, http.MethodPut, path, series); err != nil {
		return fmt.Errorf("failed to unmonitor series %d: %w", id, err)
	}
	s.logger.Info().Int64("sonarrId", id).Msg("Unmonitored series")
	return nil
}

// UnmonitorEpisode stops Sonarr from monitoring a single episode.
func (s *Sonarr) UnmonitorEpisode(ctx context.Context, id int64) error {
	body := map[string]any{"episodeIds": []int64{id}, "monitored": false}
	if _, err := s.do(ctx, http.MethodPut, "/api/v3/episode/monitor", body); err != nil {
		return fmt.Errorf("failed to unmonitor episode %d: %w", id, err)
	}
	s.logger.Info().Int64("episodeId", id).Msg("Unmonitored episode")
	return nil
}

// DeleteSeries removes a series from Sonarr.
func (s *Sonarr) DeleteSeries(ctx context.Context, id int64, deleteFiles bool) error {
	path := fmt.Sprintf("/api/v3/series/%d?deleteFiles=%t&addImportListExclusion=false", id, deleteFiles)
	if _, err := s.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("failed to delete series %d: %w", id, err)
	}
	s.logger.Info().Int64("sonarrId", id).Msg("Removed series")
	return nil
}
