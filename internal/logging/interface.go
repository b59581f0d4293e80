package logging

import (
	"context"
	"log/slog"
	"time"
)

// LogEntry is one record ready for transmission. It is never mutated after
// the forwarder builds it.
type LogEntry struct {
	Level           Level    `json:"level"`
	Message         string   `json:"message"`
	ClientTimestamp int64    `json:"clientTimestamp"`
	UserID          string   `json:"logUserId"`
	Payload         *Payload `json:"payload"`
}

type Payload struct {
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Record is what a log source yields to its subscribers.
type Record struct {
	Level      slog.Level
	Message    string
	Time       time.Time
	Data       map[string]any
	Err        error
	StackTrace string
}

// NewEntry translates a record into a LogEntry for the given user.
func NewEntry(rec Record, userID string) LogEntry {
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return LogEntry{
		Level:           MapLevel(rec.Level),
		Message:         rec.Message,
		ClientTimestamp: ts.UnixMilli(),
		UserID:          userID,
		Payload:         newPayload(rec),
	}
}

func newPayload(rec Record) *Payload {
	var p Payload
	if len(rec.Data) > 0 {
		data := make(map[string]any, len(rec.Data))
		for k, v := range rec.Data {
			data[k] = v
		}
		p.Data = data
	}
	if rec.Err != nil {
		p.Error = rec.Err.Error()
	}
	p.StackTrace = rec.StackTrace

	if p.Data == nil && p.Error == "" && p.StackTrace == "" {
		return nil
	}
	return &p
}

// LogSender delivers one batch. Implementations must not retry; the caller
// owns retry policy.
type LogSender interface {
	SendBatch(ctx context.Context, entries []LogEntry, apiKey, bundleID string) error
}

// CancelFunc removes a subscription. After it returns no further callbacks
// are delivered.
type CancelFunc func()

// LogSource is the host's logging facility as seen by the forwarder.
type LogSource interface {
	Subscribe(fn func(Record)) CancelFunc
	SetMinLevel(level slog.Level)
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 15 * time.Second
)

func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
	}
}
