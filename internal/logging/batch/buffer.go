package batch

import (
	"sync"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

// Buffer is the ordered queue of entries waiting for delivery. It is safe
// for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []logging.LogEntry
	size    int
}

// NewBuffer preallocates room for one batch of the given size.
func NewBuffer(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{
		entries: make([]logging.LogEntry, 0, size),
		size:    size,
	}
}

// Append adds entry at the end and returns the new length.
func (b *Buffer) Append(entry logging.LogEntry) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	return len(b.entries)
}

// DrainAll empties the buffer and returns everything it held, in order.
func (b *Buffer) DrainAll() []logging.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}
	drained := b.entries
	b.entries = make([]logging.LogEntry, 0, b.size)
	return drained
}

// PrependAll puts entries back in front of anything appended since they
// were drained, keeping their relative order.
func (b *Buffer) PrependAll(entries []logging.LogEntry) {
	if len(entries) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]logging.LogEntry, 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
}

func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a copy of the pending entries.
func (b *Buffer) Snapshot() []logging.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]logging.LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset drops every pending entry.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]logging.LogEntry, 0, b.size)
}
