package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

// ManualProtectionReason is reported for items protected without a stored reason.
const ManualProtectionReason = "Manually protected"

// ProtectionConfig holds the operator-tunable protection thresholds.
type ProtectionConfig struct {
	ProtectRecentlyAdded   bool     `json:"protectRecentlyAdded" mapstructure:"protect_recently_added"`
	RecentlyAddedDays      int      `json:"recentlyAddedDays" mapstructure:"recently_added_days"`
	ProtectRecentlyWatched bool     `json:"protectRecentlyWatched" mapstructure:"protect_recently_watched"`
	RecentlyWatchedDays    int      `json:"recentlyWatchedDays" mapstructure:"recently_watched_days"`
	ProtectInProgress      bool     `json:"protectInProgress" mapstructure:"protect_in_progress"`
	ProtectedGenres        []string `json:"protectedGenres" mapstructure:"protected_genres"`
	ProtectedTags          []string `json:"protectedTags" mapstructure:"protected_tags"`
	// ProtectedRating protects items rated at or above it. Nil disables the check.
	ProtectedRating *float64 `json:"protectedRating,omitempty" mapstructure:"protected_rating"`
}

// DefaultProtectionConfig returns the protection defaults.
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		ProtectRecentlyAdded:   true,
		RecentlyAddedDays:      30,
		ProtectRecentlyWatched: true,
		RecentlyWatchedDays:    14,
		ProtectInProgress:      true,
	}
}

// Verdict is the outcome of the protection check.
type Verdict struct {
	IsProtected bool   `json:"isProtected"`
	Reason      string `json:"reason,omitempty"`
}

// ApplyProtection decides whether item is exempt from every deletion action.
// Checks run in a fixed order and the first one that fires supplies the reason.
func ApplyProtection(item *media.Item, cfg ProtectionConfig, now time.Time) Verdict {
	if item.IsProtected {
		reason := ManualProtectionReason
		if item.ProtectionReason != nil && *item.ProtectionReason != "" {
			reason = *item.ProtectionReason
		}
		return Verdict{IsProtected: true, Reason: reason}
	}

	if cfg.ProtectRecentlyAdded && item.AddedAt != nil {
		if days := DaysSince(*item.AddedAt, now); days < cfg.RecentlyAddedDays {
			return Verdict{IsProtected: true, Reason: fmt.Sprintf("Recently added (%d days ago)", days)}
		}
	}

	if cfg.ProtectRecentlyWatched && item.LastWatchedAt != nil {
		if days := DaysSince(*item.LastWatchedAt, now); days < cfg.RecentlyWatchedDays {
			return Verdict{IsProtected: true, Reason: fmt.Sprintf("Recently watched (%d days ago)", days)}
		}
	}

	if cfg.ProtectInProgress && item.InProgress {
		return Verdict{IsProtected: true, Reason: "Currently in progress"}
	}

	if genre, ok := firstShared(item.Genres, cfg.ProtectedGenres); ok {
		return Verdict{IsProtected: true, Reason: "Protected genre: " + genre}
	}

	if tag, ok := firstShared(item.Tags, cfg.ProtectedTags); ok {
		return Verdict{IsProtected: true, Reason: "Protected tag: " + tag}
	}

	if cfg.ProtectedRating != nil && item.Rating != nil && *item.Rating >= *cfg.ProtectedRating {
		return Verdict{
			IsProtected: true,
			Reason:      fmt.Sprintf("Rating %.1f at or above %.1f", *item.Rating, *cfg.ProtectedRating),
		}
	}

	return Verdict{}
}

// firstShared returns the first value of have that appears in protected,
// compared case-insensitively.
func firstShared(have, protected []string) (string, bool) {
	if len(have) == 0 || len(protected) == 0 {
		return "", false
	}
	set := make(map[string]struct{}, len(protected))
	for _, p := range protected {
		set[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	for _, h := range have {
		if _, ok := set[strings.ToLower(strings.TrimSpace(h))]; ok {
			return h, true
		}
	}
	return "", false
}

// clone returns a deep copy so callers never share slices with the engine.
func (c ProtectionConfig) clone() ProtectionConfig {
	out := c
	out.ProtectedGenres = append([]string(nil), c.ProtectedGenres...)
	out.ProtectedTags = append([]string(nil), c.ProtectedTags...)
	if c.ProtectedRating != nil {
		r := *c.ProtectedRating
		out.ProtectedRating = &r
	}
	return out
}
