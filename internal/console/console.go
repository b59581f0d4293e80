// Package console echoes captured records to a terminal during development.
package console

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

type Writer struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// New returns a Writer formatting records with zerolog's console writer.
// A nil out writes to stdout.
func New(out io.Writer, noColor bool) *Writer {
	if out == nil {
		out = os.Stdout
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.TimeOnly,
	}
	return &Writer{
		logger: zerolog.New(cw).Level(zerolog.TraceLevel),
	}
}

// Echo writes one record. Records are serialized so that concurrent callers
// do not interleave lines.
func (w *Writer) Echo(rec logging.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := w.logger.WithLevel(toZerologLevel(rec.Level))
	if ev == nil {
		return
	}

	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ev = ev.Time(zerolog.TimestampFieldName, ts)

	for key, value := range rec.Data {
		ev = ev.Interface(key, value)
	}
	if rec.Err != nil {
		ev = ev.Err(rec.Err)
	}
	if rec.StackTrace != "" {
		ev = ev.Str(zerolog.ErrorStackFieldName, rec.StackTrace)
	}

	ev.Msg(rec.Message)
}

// toZerologLevel never yields fatal or panic; anything above error prints
// as error.
func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
