package source

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/slogtest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

type recorder struct {
	mu      sync.Mutex
	records []logging.Record
}

func (r *recorder) add(rec logging.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) get() []logging.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logging.Record(nil), r.records...)
}

func TestHub_SubscribeAndCancel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}

	cancel := hub.Subscribe(rec.add)
	assert.Equal(t, 1, hub.Subscribers())

	hub.Publish(logging.Record{Level: slog.LevelInfo, Message: "one"})
	cancel()
	cancel()
	hub.Publish(logging.Record{Level: slog.LevelInfo, Message: "two"})

	got := rec.get()
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_MinLevel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}
	hub.Subscribe(rec.add)

	assert.Equal(t, slog.LevelInfo, hub.MinLevel())
	hub.Publish(logging.Record{Level: slog.LevelDebug, Message: "dropped"})
	assert.Empty(t, rec.get())

	hub.SetMinLevel(logging.LevelAll)
	hub.Publish(logging.Record{Level: logging.LevelTrace, Message: "kept"})
	assert.Len(t, rec.get(), 1)
}

func TestHub_RecoversSubscriberPanic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}
	hub.Subscribe(func(logging.Record) { panic("boom") })
	hub.Subscribe(rec.add)

	assert.NotPanics(t, func() {
		hub.Publish(logging.Record{Level: slog.LevelError, Message: "x"})
	})
	assert.Len(t, rec.get(), 1)
}

func TestHandler_PublishesSlogRecords(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetMinLevel(logging.LevelAll)
	rec := &recorder{}
	hub.Subscribe(rec.add)

	logger := slog.New(NewHandler(hub)).With("service", "checkout")
	logger.Debug("cart loaded", "items", 3)
	logger.Error("payment failed", "error", errors.New("card declined"), "stack", "pay.go:12")
	logger.WithGroup("req").Info("served", "status", 200)

	got := rec.get()
	require.Len(t, got, 3)

	assert.Equal(t, slog.LevelDebug, got[0].Level)
	assert.Equal(t, "cart loaded", got[0].Message)
	assert.Equal(t, "checkout", got[0].Data["service"])
	assert.EqualValues(t, 3, got[0].Data["items"])

	assert.Equal(t, "payment failed", got[1].Message)
	require.Error(t, got[1].Err)
	assert.Equal(t, "card declined", got[1].Err.Error())
	assert.Equal(t, "pay.go:12", got[1].StackTrace)
	assert.NotContains(t, got[1].Data, "error")
	assert.NotContains(t, got[1].Data, "stack")

	req, ok := got[2].Data["req"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 200, req["status"])
}

func TestHandler_AttrsKeepTheirGroupDepth(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}
	hub.Subscribe(rec.add)

	logger := slog.New(NewHandler(hub)).With("a", 1).WithGroup("g")
	logger.Info("m", "b", 2)
	logger.With("c", 3).WithGroup("h").Info("empty")

	got := rec.get()
	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"a": int64(1), "g": map[string]any{"b": int64(2)}}, got[0].Data)
	assert.Equal(t, map[string]any{"a": int64(1), "g": map[string]any{"c": int64(3)}}, got[1].Data)
}

func TestHandler_Conformance(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}
	hub.Subscribe(rec.add)

	results := func() []map[string]any {
		var out []map[string]any
		for _, r := range rec.get() {
			m := map[string]any{
				slog.LevelKey:   r.Level,
				slog.MessageKey: r.Message,
			}
			if !r.Time.IsZero() {
				m[slog.TimeKey] = r.Time
			}
			for k, v := range r.Data {
				m[k] = v
			}
			out = append(out, m)
		}
		return out
	}

	require.NoError(t, slogtest.TestHandler(NewHandler(hub), results))
}

func TestHandler_EnabledFollowsHub(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))

	hub.SetMinLevel(logging.LevelAll)
	assert.True(t, h.Enabled(context.Background(), logging.LevelTrace))
}

func TestHandler_NoAttrsMeansNoData(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := &recorder{}
	hub.Subscribe(rec.add)

	slog.New(NewHandler(hub)).Info("plain")

	got := rec.get()
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Data)
}

func TestZerologWriter(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetMinLevel(logging.LevelAll)
	rec := &recorder{}
	hub.Subscribe(rec.add)

	logger := zerolog.New(NewZerologWriter(hub)).With().Timestamp().Logger()
	logger.Warn().Str("user", "u1").Msg("slow request")
	logger.Error().Err(errors.New("timeout")).Msg("request failed")
	logger.Debug().Msg("fine detail")

	got := rec.get()
	require.Len(t, got, 3)

	assert.Equal(t, slog.LevelWarn, got[0].Level)
	assert.Equal(t, "slow request", got[0].Message)
	assert.Equal(t, "u1", got[0].Data["user"])
	assert.WithinDuration(t, time.Now(), got[0].Time, time.Minute)

	assert.Equal(t, logging.LevelError, logging.MapLevel(got[1].Level))
	require.Error(t, got[1].Err)
	assert.Equal(t, "timeout", got[1].Err.Error())

	assert.Equal(t, logging.LevelLog, logging.MapLevel(got[2].Level))
}

func TestParseLine_PlainText(t *testing.T) {
	rec := ParseLine([]byte("just some text"))
	assert.Equal(t, slog.LevelInfo, rec.Level)
	assert.Equal(t, "just some text", rec.Message)
	assert.Nil(t, rec.Data)

	rec = ParseLine([]byte("{not json"))
	assert.Equal(t, "{not json", rec.Message)
}

func TestParseLine_StackAsObject(t *testing.T) {
	rec := ParseLine([]byte(`{"level":"error","message":"m","stack":[{"func":"main"}]}`))
	assert.Equal(t, `[{"func":"main"}]`, rec.StackTrace)
	assert.Nil(t, rec.Data)
}

func TestTailer_PublishesAppendedLines(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(file, []byte("old line\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("nope\n"), 0644))

	hub := NewHub(zerolog.Nop())
	hub.SetMinLevel(logging.LevelAll)
	rec := &recorder{}
	hub.Subscribe(rec.add)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tailer := NewTailer(ctx, TailerConfig{
		RootPath:     dir,
		ScanInterval: 50 * time.Millisecond,
		Poll:         true,
	}, hub, zerolog.Nop())
	tailer.Start()
	defer tailer.Stop()

	assert.Eventually(t, func() bool { return tailer.Metrics().FilesActive == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(500 * time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("l1\n")
	_, _ = f.WriteString(`{"level":"error","message":"l2"}` + "\n")
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool { return len(rec.get()) >= 2 }, 3*time.Second, 50*time.Millisecond)

	got := rec.get()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "l1", got[0].Message)
	assert.Equal(t, "app.log", got[0].Data["file"])
	assert.Equal(t, "l2", got[1].Message)
	assert.Equal(t, slog.LevelError, got[1].Level)

	m := tailer.Metrics()
	assert.Equal(t, 1, m.FilesDiscovered)
	assert.GreaterOrEqual(t, m.LinesPublished, 2)
}

func TestTailer_DiscoverUsesPattern(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "c.txt", "nested/d.log"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	}

	tailer := NewTailer(context.TODO(), TailerConfig{RootPath: dir}, NewHub(zerolog.Nop()), zerolog.Nop())
	files, err := tailer.discoverLogFiles()
	assert.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestTailerMetrics_Concurrent(t *testing.T) {
	m := &TailerMetrics{}
	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				m.IncLinesPublished()
				m.IncFilesActive()
				m.DecFilesActive()
			}
		}()
	}
	wg.Wait()

	stamp := m.Stamp()
	assert.Equal(t, 1000, stamp.LinesPublished)
	assert.Equal(t, 0, stamp.FilesActive)
}
