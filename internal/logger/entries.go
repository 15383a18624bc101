package logger

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogEntry is one parsed log line. The ids the retention services attach to
// their log events are lifted out of Fields so entries can be filtered by
// the item, rule or task they concern.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	ItemID    *int64         `json:"itemId,omitempty"`
	RuleID    *int64         `json:"ruleId,omitempty"`
	Task      string         `json:"task,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Query selects buffered entries. Zero fields match everything.
type Query struct {
	// MinLevel drops entries below this level.
	MinLevel  string
	Component string
	ItemID    *int64
	RuleID    *int64
	Task      string
	// Limit keeps only the newest Limit matches.
	Limit int
}

// Matches reports whether e satisfies every set field of q.
func (q Query) Matches(e LogEntry) bool {
	if q.MinLevel != "" && levelOf(e.Level) < levelOf(q.MinLevel) {
		return false
	}
	if q.Component != "" && !strings.EqualFold(q.Component, e.Component) {
		return false
	}
	if q.ItemID != nil && (e.ItemID == nil || *e.ItemID != *q.ItemID) {
		return false
	}
	if q.RuleID != nil && (e.RuleID == nil || *e.RuleID != *q.RuleID) {
		return false
	}
	if q.Task != "" && q.Task != e.Task {
		return false
	}
	return true
}

func levelOf(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel
	}
	return lvl
}

// entryRing keeps the most recent entries, overwriting the oldest.
type entryRing struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
}

func newEntryRing(capacity int) *entryRing {
	return &entryRing{entries: make([]LogEntry, capacity)}
}

func (r *entryRing) push(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// query returns the matching entries, oldest first.
func (r *entryRing) query(q Query) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.entries)
	}

	out := make([]LogEntry, 0, n)
	for i := range n {
		e := r.entries[(start+i)%len(r.entries)]
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}
