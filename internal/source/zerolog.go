package source

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

// ZerologWriter is an io.Writer that turns zerolog JSON events into records
// on a Hub:
//
//	logger := zerolog.New(source.NewZerologWriter(hub))
type ZerologWriter struct {
	hub *Hub
}

func NewZerologWriter(hub *Hub) *ZerologWriter {
	return &ZerologWriter{hub: hub}
}

func (w *ZerologWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.hub.Publish(ParseLine(line))
	}
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter.
func (w *ZerologWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	return w.Write(p)
}

// ParseLine decodes one log line. JSON objects are read using zerolog's
// field names; anything else becomes an info record carrying the raw text.
func ParseLine(line []byte) logging.Record {
	var fields map[string]any
	if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &fields) != nil {
		return logging.Record{
			Level:   slog.LevelInfo,
			Message: string(line),
			Time:    time.Now(),
		}
	}

	rec := logging.Record{Level: slog.LevelInfo}

	if v, ok := fields[zerolog.LevelFieldName].(string); ok {
		rec.Level = logging.ParseLevel(v)
	}
	delete(fields, zerolog.LevelFieldName)

	if v, ok := fields[zerolog.MessageFieldName].(string); ok {
		rec.Message = v
	}
	delete(fields, zerolog.MessageFieldName)

	rec.Time = parseTime(fields[zerolog.TimestampFieldName])
	delete(fields, zerolog.TimestampFieldName)

	if v, ok := fields[zerolog.ErrorFieldName]; ok {
		rec.Err = stringError(stringify(v))
		delete(fields, zerolog.ErrorFieldName)
	}
	if v, ok := fields[zerolog.ErrorStackFieldName]; ok {
		rec.StackTrace = stringify(v)
		delete(fields, zerolog.ErrorStackFieldName)
	}

	if len(fields) > 0 {
		rec.Data = fields
	}
	return rec
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{zerolog.TimeFieldFormat, time.RFC3339Nano, time.RFC3339} {
			if layout == "" {
				continue
			}
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	case float64:
		switch zerolog.TimeFieldFormat {
		case zerolog.TimeFormatUnixMs:
			return time.UnixMilli(int64(t))
		case zerolog.TimeFormatUnixMicro:
			return time.UnixMicro(int64(t))
		case zerolog.TimeFormatUnixNano:
			return time.Unix(0, int64(t))
		default:
			sec := int64(t)
			return time.Unix(sec, int64((t-float64(sec))*1e9))
		}
	}
	return time.Now()
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
