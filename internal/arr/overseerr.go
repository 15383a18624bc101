package arr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Overseerr is a client for the Overseerr v1 API.
type Overseerr struct {
	*client
}

// NewOverseerr creates an Overseerr client.
func NewOverseerr(cfg Config, breaker BreakerConfig, logger zerolog.Logger, opts ...Option) (*Overseerr, error) {
	c, err := newClient("overseerr", "/api/v1/status", cfg, breaker, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Overseerr{client: c}, nil
}

type overseerrDetails struct {
	MediaInfo *struct {
		ID int64 `json:"id"`
	} `json:"mediaInfo"`
}

// ResetMedia clears Overseerr's record of a title so it can be requested
// again. mediaType is "movie" or "tv". It reports false when Overseerr has no
// record to reset.
func (o *Overseerr) ResetMedia(ctx context.Context, mediaType string, tmdbID int64) (bool, error) {
	if mediaType != "movie" && mediaType != "tv" {
		return false, fmt.Errorf("unsupported overseerr media type %q", mediaType)
	}

	var details overseerrDetails
	err := o.getJSON(ctx, fmt.Sprintf("/api/v1/%s/%d", mediaType, tmdbID), &details)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %d: %w", mediaType, tmdbID, err)
	}
	if details.MediaInfo == nil || details.MediaInfo.ID == 0 {
		return false, nil
	}

	if _, err := o.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/media/%d", details.MediaInfo.ID), nil); err != nil {
		return false, fmt.Errorf("failed to reset media %d: %w", details.MediaInfo.ID, err)
	}
	o.logger.Info().Str("mediaType", mediaType).Int64("tmdbId", tmdbID).Msg("Reset media request")
	return true, nil
}
