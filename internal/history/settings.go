package history

import (
	"context"
	"fmt"

	"github.com/reclaimarr/reclaimarr/internal/database"
)

// RetentionSettings contains history retention configuration.
type RetentionSettings struct {
	Enabled       bool `json:"enabled" mapstructure:"enabled"`
	RetentionDays int  `json:"retentionDays" mapstructure:"retention_days"`
}

// DefaultRetentionSettings returns default retention settings.
func DefaultRetentionSettings() RetentionSettings {
	return RetentionSettings{
		Enabled:       true,
		RetentionDays: 365,
	}
}

// GetRetentionSettings returns the active retention settings.
func (s *Service) GetRetentionSettings() RetentionSettings {
	return s.retention
}

// SetRetentionSettings replaces the retention settings. Call before the
// scheduler starts.
func (s *Service) SetRetentionSettings(settings RetentionSettings) {
	s.retention = settings
}

// CleanupOldEntries deletes history entries older than the configured
// retention period and returns how many were removed.
func (s *Service) CleanupOldEntries(ctx context.Context) (int64, error) {
	settings := s.retention
	if !settings.Enabled || settings.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -settings.RetentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE created_at < ?`, database.ToMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old history: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Cleaned up old history entries")
	}
	return n, nil
}
