package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/rs/zerolog"
)

type TailerConfig struct {
	RootPath     string
	Pattern      string
	ScanInterval time.Duration
	// MaxFiles caps concurrently tailed files. Zero means no limit.
	MaxFiles int
	// If > 0, stop tailing a file after this period without new lines. It is
	// picked up again on a later scan.
	IdleTimeout time.Duration
	// FromStart reads existing content instead of only new lines.
	FromStart bool
	// Poll uses polling instead of inotify.
	Poll bool
}

// Tailer follows log files under a directory and publishes every line to
// a Hub.
type Tailer struct {
	config  TailerConfig
	hub     *Hub
	logger  zerolog.Logger
	metrics *TailerMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	seen   map[string]struct{}
}

func NewTailer(ctx context.Context, config TailerConfig, hub *Hub, logger zerolog.Logger) *Tailer {
	if config.Pattern == "" {
		config.Pattern = "*.log"
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 10 * time.Second
	}
	nCtx, cancel := context.WithCancel(ctx)
	return &Tailer{
		config:  config,
		hub:     hub,
		logger:  logger,
		metrics: &TailerMetrics{},
		ctx:     nCtx,
		cancel:  cancel,
		active:  make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

func (t *Tailer) Metrics() TailerMetrics {
	return t.metrics.Stamp()
}

// Start scans immediately and then on every scan interval.
func (t *Tailer) Start() {
	t.logger.Info().
		Str("root", t.config.RootPath).
		Str("pattern", t.config.Pattern).
		Dur("scan_interval", t.config.ScanInterval).
		Msg("starting file tailer")

	t.scanFiles()

	t.wg.Add(1)
	go t.scanner()
}

// Stop cancels all tails and waits for them to exit.
func (t *Tailer) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Info().Msg("file tailer stopped")
}

func (t *Tailer) scanner() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.scanFiles()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Tailer) scanFiles() {
	files, err := t.discoverLogFiles()
	if err != nil {
		t.logger.Warn().Err(err).Msg("error discovering log files")
		return
	}

	for _, file := range files {
		if t.ctx.Err() != nil {
			return
		}
		t.startTail(file)
	}
}

func (t *Tailer) startTail(file string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[file]; !ok {
		t.seen[file] = struct{}{}
		t.metrics.IncFilesDiscovered()
	}
	if _, ok := t.active[file]; ok {
		return
	}
	if t.config.MaxFiles > 0 && len(t.active) >= t.config.MaxFiles {
		t.logger.Debug().Str("file", file).Int("active", len(t.active)).Msg("tail limit reached, skipping file")
		return
	}

	t.active[file] = struct{}{}
	t.metrics.IncFilesActive()

	t.wg.Add(1)
	go t.tailFile(file)
}

func (t *Tailer) release(file string) {
	t.mu.Lock()
	delete(t.active, file)
	t.mu.Unlock()
	t.metrics.DecFilesActive()
}

func (t *Tailer) tailFile(filePath string) {
	defer t.wg.Done()
	defer t.release(filePath)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Str("file", filePath).Interface("panic", r).Msg("file tail panicked")
			t.metrics.IncFilesFailed()
		}
	}()

	whence := io.SeekEnd
	if t.config.FromStart {
		whence = io.SeekStart
	}

	tf, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     t.config.Poll,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("file", filePath).Msg("failed to tail file")
		t.metrics.IncFilesFailed()
		return
	}
	defer tf.Cleanup()
	defer func() { _ = tf.Stop() }()

	checkTicker := time.NewTicker(time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()
	base := filepath.Base(filePath)

	for {
		select {
		case line, ok := <-tf.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				t.logger.Warn().Err(line.Err).Str("file", filePath).Msg("error reading log file")
				continue
			}
			if line.Text == "" {
				continue
			}

			rec := ParseLine([]byte(line.Text))
			if rec.Data == nil {
				rec.Data = make(map[string]any, 1)
			}
			rec.Data["file"] = base

			t.hub.Publish(rec)
			t.metrics.IncLinesPublished()
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check the idle timeout
			if t.config.IdleTimeout > 0 && time.Since(lastActivity) > t.config.IdleTimeout {
				t.logger.Debug().Str("file", filePath).Msg("file idle, stopping tail")
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Tailer) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(t.config.RootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			t.logger.Debug().Err(err).Str("path", path).Msg("error accessing path")
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(t.config.Pattern, info.Name()); ok {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}
