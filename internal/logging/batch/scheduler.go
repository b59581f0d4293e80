package batch

import (
	"context"
	"sync"
	"time"
)

// Scheduler calls flush on a fixed period until stopped.
type Scheduler struct {
	interval time.Duration
	flush    func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(interval time.Duration, flush func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		interval: interval,
		flush:    flush,
	}
}

// Start launches the ticker goroutine. Calling Start on a running scheduler
// does nothing. Each flush receives ctx itself, so Stop never cancels a
// flush that is already running; cancelling ctx does.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, loopCtx, s.done)
}

// Stop ends the ticker and waits for an in-progress flush to return, or for
// ctx to end, whichever comes first. No new flush starts once Stop is called.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(flushCtx, loopCtx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if loopCtx.Err() != nil {
				return
			}
			s.flush(flushCtx)
		case <-loopCtx.Done():
			return
		}
	}
}
