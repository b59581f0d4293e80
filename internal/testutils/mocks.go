package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/logmonitor/logmonitor-agent/internal/environment"
	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

// MockLogSender records every SendBatch call. Failing calls are recorded in
// Attempts but not in SentBatches.
type MockLogSender struct {
	mu          sync.Mutex
	SentBatches [][]logging.LogEntry
	Attempts    [][]logging.LogEntry
	APIKeys     []string
	BundleIDs   []string
	ShouldFail  bool
	// FailFirst fails that many calls before ShouldFail applies.
	FailFirst int
	Delay     time.Duration
	// Gate, when set, blocks each call until it receives a value or is closed.
	Gate chan struct{}
	// Started, when set, receives one value as each call begins.
	Started chan struct{}
}

func (m *MockLogSender) SendBatch(ctx context.Context, entries []logging.LogEntry, apiKey, bundleID string) error {
	batch := make([]logging.LogEntry, len(entries))
	copy(batch, entries)

	m.mu.Lock()
	m.Attempts = append(m.Attempts, batch)
	m.APIKeys = append(m.APIKeys, apiKey)
	m.BundleIDs = append(m.BundleIDs, bundleID)
	started, gate := m.Started, m.Gate
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailFirst > 0 {
		m.FailFirst--
		return fmt.Errorf("mock send failed")
	}
	if m.ShouldFail {
		return fmt.Errorf("mock send failed")
	}

	m.SentBatches = append(m.SentBatches, batch)
	return nil
}

func (m *MockLogSender) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

func (m *MockLogSender) GetSentBatches() [][]logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]logging.LogEntry(nil), m.SentBatches...)
}

func (m *MockLogSender) GetAttempts() [][]logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]logging.LogEntry(nil), m.Attempts...)
}

func (m *MockLogSender) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Attempts)
}

// MockProbe is an environment probe with a configurable failure.
type MockProbe struct {
	Debug bool
	ID    string
	Err   error
	Calls int
	mu    sync.Mutex
}

func (p *MockProbe) Mode() environment.Mode {
	if p.Debug {
		return environment.Debug
	}
	return environment.Release
}

func (p *MockProbe) BundleID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if p.Err != nil {
		return "", p.Err
	}
	return p.ID, nil
}

// MockEcho collects echoed records.
type MockEcho struct {
	mu      sync.Mutex
	Records []logging.Record
}

func (e *MockEcho) Echo(rec logging.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Records = append(e.Records, rec)
}

func (e *MockEcho) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Records)
}

// Messages returns the message of every entry, in order.
func Messages(entries []logging.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}
