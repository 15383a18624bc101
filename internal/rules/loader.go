package rules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File is the on-disk rule seed format.
type File struct {
	Rules []Input `yaml:"rules"`
}

// LoadStats reports what a seed import changed.
type LoadStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// ParseFile decodes a YAML rule file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return &f, nil
}

// LoadFile imports the rules in a YAML file into store, matching existing rules
// by name. A rule that fails validation is logged and skipped.
func LoadFile(ctx context.Context, store *Store, path string, logger zerolog.Logger) (*LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	f, err := ParseFile(data)
	if err != nil {
		return nil, err
	}

	stats := &LoadStats{}
	for i := range f.Rules {
		input := f.Rules[i]

		existing, err := store.GetByName(ctx, input.Name)
		switch {
		case errors.Is(err, ErrRuleNotFound):
			_, err = store.Create(ctx, input)
			if err == nil {
				stats.Created++
			}
		case err == nil:
			_, err = store.Update(ctx, existing.ID, input)
			if err == nil {
				stats.Updated++
			}
		}
		if err != nil {
			stats.Failed++
			logger.Warn().Err(err).Str("rule", input.Name).Msg("Failed to import rule")
		}
	}

	logger.Info().
		Str("path", path).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Rules file loaded")

	return stats, nil
}
