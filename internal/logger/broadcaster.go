package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const defaultBufferSize = 1000

// EventLogEntry is the websocket message type of a streamed log entry.
const EventLogEntry = "logs:entry"

// Broadcaster is the interface for broadcasting messages.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// hubComponent is the component name of the websocket hub. Its own log lines
// are buffered but never streamed, or a dropped broadcast would log another.
const hubComponent = "websocket"

// LogBroadcaster is the io.Writer behind log streaming. It parses zerolog's
// JSON output, keeps the most recent entries for Query and forwards each one
// to the hub.
type LogBroadcaster struct {
	hub    Broadcaster
	recent *entryRing
	mu     sync.RWMutex
}

// NewLogBroadcaster creates a log broadcaster. hub may be nil until SetHub.
func NewLogBroadcaster(hub Broadcaster, bufferSize int) *LogBroadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &LogBroadcaster{hub: hub, recent: newEntryRing(bufferSize)}
}

func (b *LogBroadcaster) SetHub(hub Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hub = hub
}

// Write implements io.Writer. Lines that are not JSON are dropped; a log
// writer must never fail the caller.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	entry, ok := parseLogEntry(p)
	if !ok {
		return len(p), nil
	}
	b.recent.push(entry)

	b.mu.RLock()
	hub := b.hub
	b.mu.RUnlock()

	if hub != nil && entry.Component != hubComponent {
		_ = hub.Broadcast(EventLogEntry, entry)
	}
	return len(p), nil
}

// Query returns the buffered entries matching q, oldest first.
func (b *LogBroadcaster) Query(q Query) []LogEntry {
	return b.recent.query(q)
}

func parseLogEntry(data []byte) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Timestamp: takeString(raw, zerolog.TimestampFieldName),
		Level:     takeString(raw, zerolog.LevelFieldName),
		Component: takeString(raw, "component"),
		Message:   takeString(raw, zerolog.MessageFieldName),
		ItemID:    takeID(raw, "itemId"),
		RuleID:    takeID(raw, "ruleId"),
		Task:      takeString(raw, "task"),
	}
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, true
}

func takeString(raw map[string]any, key string) string {
	s, ok := raw[key].(string)
	if ok {
		delete(raw, key)
	}
	return s
}

// takeID lifts a numeric id out of raw. JSON numbers decode as float64.
func takeID(raw map[string]any, key string) *int64 {
	f, ok := raw[key].(float64)
	if !ok {
		return nil
	}
	delete(raw, key)
	id := int64(f)
	return &id
}
