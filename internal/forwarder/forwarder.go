// Package forwarder captures records from a log source, batches them and
// ships the batches to the collector. In debug builds records are echoed to
// the console instead and nothing leaves the process.
package forwarder

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/console"
	"github.com/logmonitor/logmonitor-agent/internal/environment"
	"github.com/logmonitor/logmonitor-agent/internal/logging"
	"github.com/logmonitor/logmonitor-agent/internal/logging/batch"
)

// Echoer writes a record to local output.
type Echoer interface {
	Echo(rec logging.Record)
}

type session struct {
	active   bool
	apiKey   string
	bundleID string
	userID   string
}

type Forwarder struct {
	sender  logging.LogSender
	source  logging.LogSource
	probe   environment.Probe
	echo    Echoer
	config  logging.Config
	logger  zerolog.Logger
	metrics *Metrics

	buffer    *batch.Buffer
	scheduler *batch.Scheduler

	// lifecycle serializes Initialize and Dispose. It is never taken on
	// the capture path.
	lifecycle   sync.Mutex
	unsubscribe logging.CancelFunc

	mu        sync.Mutex
	session   session
	mode      environment.Mode
	capturing bool
	// inFlight is non-nil while a delivery runs and is closed when it ends.
	inFlight chan struct{}
	// epoch changes on every Dispose. Deliveries from an earlier session
	// never touch the buffer.
	epoch uint64
	// sessionCtx scopes threshold and timer deliveries. Dispose cancels it.
	sessionCtx    context.Context
	cancelSession context.CancelFunc
}

type Option func(*Forwarder)

func WithConfig(c logging.Config) Option {
	return func(f *Forwarder) { f.config = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

func WithEcho(e Echoer) Option {
	return func(f *Forwarder) { f.echo = e }
}

func New(sender logging.LogSender, source logging.LogSource, probe environment.Probe, opts ...Option) *Forwarder {
	f := &Forwarder{
		sender:  sender,
		source:  source,
		probe:   probe,
		config:  logging.DefaultConfig(),
		logger:  zerolog.Nop(),
		metrics: &Metrics{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.config.BatchSize <= 0 {
		f.config.BatchSize = logging.DefaultBatchSize
	}
	if f.config.FlushInterval <= 0 {
		f.config.FlushInterval = logging.DefaultFlushInterval
	}
	if f.echo == nil {
		f.echo = console.New(nil, false)
	}

	f.buffer = batch.NewBuffer(f.config.BatchSize)
	f.scheduler = batch.NewScheduler(f.config.FlushInterval, f.tick)
	return f
}

// Initialize starts capturing. Calling it again before Dispose only logs a
// warning.
func (f *Forwarder) Initialize(apiKey string) {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	if f.Initialized() {
		f.logger.Warn().Msg("logmonitor already initialized, ignoring")
		return
	}

	bundleID, err := f.probe.BundleID()
	if err != nil {
		f.logger.Warn().Err(err).Msg("could not resolve bundle id, continuing without it")
		bundleID = ""
	}
	mode := f.probe.Mode()
	sessionCtx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	f.session = session{
		active:   true,
		apiKey:   apiKey,
		bundleID: bundleID,
	}
	f.mode = mode
	f.capturing = true
	f.sessionCtx, f.cancelSession = sessionCtx, cancel
	f.mu.Unlock()

	f.source.SetMinLevel(logging.LevelAll)
	f.unsubscribe = f.source.Subscribe(f.capture)

	if mode == environment.Release {
		f.scheduler.Start(sessionCtx)
	}

	f.logger.Info().
		Str("mode", mode.String()).
		Str("bundle_id", bundleID).
		Int("batch_size", f.config.BatchSize).
		Dur("flush_interval", f.config.FlushInterval).
		Msg("logmonitor initialized")
}

// SetUser tags entries captured from now on with userID.
func (f *Forwarder) SetUser(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.session.active {
		return
	}
	f.session.userID = userID
}

func (f *Forwarder) ClearUser() {
	f.SetUser("")
}

// Dispose stops capturing, makes one last delivery attempt and resets the
// forwarder so that Initialize can be called again. It returns once ctx ends
// even if a delivery is still running; that delivery is cancelled and its
// entries dropped. Entries still pending when the process is killed before
// Dispose returns are lost.
func (f *Forwarder) Dispose(ctx context.Context) error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	f.mu.Lock()
	if !f.session.active {
		f.mu.Unlock()
		return nil
	}
	f.capturing = false
	f.mu.Unlock()

	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}
	if err := f.scheduler.Stop(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("flush scheduler did not stop in time")
	}

	if err := f.Flush(ctx); err != nil {
		f.logger.Warn().Err(err).Int("entries", f.buffer.Len()).Msg("final flush failed, dropping pending entries")
	}

	f.mu.Lock()
	f.cancelSession()
	f.epoch++
	f.session = session{}
	f.inFlight = nil
	f.buffer.Reset()
	f.mu.Unlock()

	f.logger.Info().Msg("logmonitor disposed")
	return nil
}

// Flush delivers everything pending and waits for the result. A delivery
// already in flight is awaited first.
func (f *Forwarder) Flush(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.mu.Lock()
		if !f.session.active {
			f.mu.Unlock()
			return nil
		}
		if done := f.inFlight; done != nil {
			f.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d := f.beginDeliveryLocked()
		f.mu.Unlock()

		if d == nil {
			return nil
		}
		return f.deliver(ctx, d)
	}
}

func (f *Forwarder) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.active
}

func (f *Forwarder) Mode() environment.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Pending returns a copy of the entries waiting for delivery.
func (f *Forwarder) Pending() []logging.LogEntry {
	return f.buffer.Snapshot()
}

func (f *Forwarder) Metrics() Metrics {
	return f.metrics.Stamp()
}

func (f *Forwarder) capture(rec logging.Record) {
	f.mu.Lock()
	if !f.capturing {
		f.mu.Unlock()
		return
	}

	if f.mode == environment.Debug {
		f.mu.Unlock()
		f.echo.Echo(rec)
		f.metrics.IncEchoed()
		return
	}

	n := f.buffer.Append(logging.NewEntry(rec, f.session.userID))
	f.metrics.IncCaptured()

	var d *delivery
	if n >= f.config.BatchSize {
		d = f.beginDeliveryLocked()
	}
	ctx := f.sessionCtx
	f.mu.Unlock()

	if d != nil {
		go func() { _ = f.deliver(ctx, d) }()
	}
}

func (f *Forwarder) tick(ctx context.Context) {
	f.mu.Lock()
	d := f.beginDeliveryLocked()
	f.mu.Unlock()

	if d != nil {
		_ = f.deliver(ctx, d)
	}
}

type delivery struct {
	entries  []logging.LogEntry
	apiKey   string
	bundleID string
	epoch    uint64
	done     chan struct{}
}

// beginDeliveryLocked drains the buffer and marks a delivery in flight. It
// returns nil when the buffer is empty or another delivery is running.
func (f *Forwarder) beginDeliveryLocked() *delivery {
	if !f.session.active {
		return nil
	}
	if f.inFlight != nil {
		f.metrics.IncSkipped()
		return nil
	}

	entries := f.buffer.DrainAll()
	if len(entries) == 0 {
		return nil
	}

	d := &delivery{
		entries:  entries,
		apiKey:   f.session.apiKey,
		bundleID: f.session.bundleID,
		epoch:    f.epoch,
		done:     make(chan struct{}),
	}
	f.inFlight = d.done
	return d
}

// deliver sends d and settles the buffer. After a success it starts the
// next delivery right away when a full batch built up during the send.
func (f *Forwarder) deliver(ctx context.Context, d *delivery) error {
	err := f.sendBatch(ctx, d)

	f.mu.Lock()
	current := d.epoch == f.epoch
	switch {
	case err != nil && !current:
		f.metrics.IncBatchesFailed(0)
		f.logger.Warn().Err(err).Int("entries", len(d.entries)).Msg("delivery from a disposed session failed, dropping entries")
	case err != nil:
		f.buffer.PrependAll(d.entries)
		f.metrics.IncBatchesFailed(len(d.entries))
		f.logger.Warn().Err(err).Int("entries", len(d.entries)).Msg("failed to deliver logs, will retry")
	default:
		f.metrics.IncBatchesSent(len(d.entries))
		f.logger.Debug().Int("entries", len(d.entries)).Msg("delivered logs")
	}

	if f.inFlight == d.done {
		f.inFlight = nil
	}
	close(d.done)

	var next *delivery
	if err == nil && current && f.capturing && f.buffer.Len() >= f.config.BatchSize {
		next = f.beginDeliveryLocked()
	}
	sessionCtx := f.sessionCtx
	f.mu.Unlock()

	if next != nil {
		go func() { _ = f.deliver(sessionCtx, next) }()
	}
	return err
}

var errSenderPanic = errors.New("sender panicked")

func (f *Forwarder) sendBatch(ctx context.Context, d *delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("log sender panicked")
			err = errSenderPanic
		}
	}()
	return f.sender.SendBatch(ctx, d.entries, d.apiKey, d.bundleID)
}
