// Package source adapts host logging facilities into a stream of
// logging.Record values that the forwarder can subscribe to.
package source

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

// Hub fans records out to subscribers. Publish is safe for concurrent use.
type Hub struct {
	minLevel atomic.Int64

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(logging.Record)

	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	h := &Hub{
		subs:   make(map[uint64]func(logging.Record)),
		logger: logger,
	}
	h.minLevel.Store(int64(slog.LevelInfo))
	return h
}

// SetMinLevel sets the lowest level that Publish forwards.
func (h *Hub) SetMinLevel(level slog.Level) {
	h.minLevel.Store(int64(level))
}

func (h *Hub) MinLevel() slog.Level {
	return slog.Level(h.minLevel.Load())
}

func (h *Hub) Enabled(level slog.Level) bool {
	return level >= h.MinLevel()
}

// Subscribe registers fn. The returned cancel func is idempotent; once it
// returns, fn is not running and will not be called again.
func (h *Hub) Subscribe(fn func(logging.Record)) logging.CancelFunc {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers rec to every subscriber when its level is enabled.
func (h *Hub) Publish(rec logging.Record) {
	if !h.Enabled(rec.Level) {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, fn := range h.subs {
		h.dispatch(id, fn, rec)
	}
}

func (h *Hub) dispatch(id uint64, fn func(logging.Record), rec logging.Record) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Uint64("subscriber", id).Interface("panic", r).Msg("log subscriber panicked")
		}
	}()
	fn(rec)
}
