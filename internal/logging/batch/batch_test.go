package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

func entry(msg string) logging.LogEntry {
	return logging.LogEntry{Level: logging.LevelInfo, Message: msg, ClientTimestamp: time.Now().UnixMilli()}
}

func messages(entries []logging.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestBuffer_AppendAndDrain(t *testing.T) {
	buf := NewBuffer(20)
	assert.True(t, buf.IsEmpty())

	assert.Equal(t, 1, buf.Append(entry("a")))
	assert.Equal(t, 2, buf.Append(entry("b")))
	assert.Equal(t, 3, buf.Append(entry("c")))
	assert.False(t, buf.IsEmpty())
	assert.Equal(t, []string{"a", "b", "c"}, messages(buf.Snapshot()))

	drained := buf.DrainAll()
	assert.Equal(t, []string{"a", "b", "c"}, messages(drained))
	assert.True(t, buf.IsEmpty())
	assert.Nil(t, buf.DrainAll())
}

func TestBuffer_PrependAllKeepsOrder(t *testing.T) {
	buf := NewBuffer(4)
	buf.Append(entry("1"))
	buf.Append(entry("2"))

	drained := buf.DrainAll()

	buf.Append(entry("3"))
	buf.Append(entry("4"))

	buf.PrependAll(drained)
	assert.Equal(t, []string{"1", "2", "3", "4"}, messages(buf.Snapshot()))

	buf.PrependAll(nil)
	assert.Equal(t, 4, buf.Len())
}

func TestBuffer_DrainDoesNotAliasNewAppends(t *testing.T) {
	buf := NewBuffer(2)
	buf.Append(entry("a"))
	drained := buf.DrainAll()

	buf.Append(entry("b"))
	assert.Equal(t, []string{"a"}, messages(drained))
	assert.Equal(t, []string{"b"}, messages(buf.Snapshot()))
}

func TestBuffer_Reset(t *testing.T) {
	buf := NewBuffer(2)
	buf.Append(entry("a"))
	buf.Reset()
	assert.True(t, buf.IsEmpty())
}

func TestBuffer_ConcurrentAppendAndDrain(t *testing.T) {
	buf := NewBuffer(5)

	var wg sync.WaitGroup
	var drainedTotal atomic.Int64
	stop := make(chan struct{})

	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-stop:
				drainedTotal.Add(int64(len(buf.DrainAll())))
				return
			default:
				drainedTotal.Add(int64(len(buf.DrainAll())))
			}
		}
	}()

	worker := func(id int) {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			buf.Append(entry(fmt.Sprintf("w%d-%d", id, i)))
		}
	}

	wg.Add(5)
	for w := 0; w < 5; w++ {
		go worker(w)
	}
	wg.Wait()
	close(stop)
	<-drainerDone

	assert.Equal(t, int64(1000), drainedTotal.Load())
	assert.True(t, buf.IsEmpty())
}

func TestScheduler_Ticks(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})

	s.Start(context.Background())
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	assert.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestScheduler_StartTwiceAndStopIdle(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(time.Hour, func(context.Context) { ticks.Add(1) })

	assert.NoError(t, s.Stop(context.Background()))

	s.Start(context.Background())
	s.Start(context.Background())
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, int32(0), ticks.Load())
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	s := NewScheduler(5*time.Millisecond, func(context.Context) { ticks.Add(1) })

	s.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)

	n := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopDoesNotCancelRunningFlush(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var flushErr atomic.Value

	s := NewScheduler(5*time.Millisecond, func(ctx context.Context) {
		select {
		case entered <- struct{}{}:
		default:
			return
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		flushErr.Store(fmt.Sprint(ctx.Err()))
	})
	s.Start(context.Background())
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a flush was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, "<nil>", flushErr.Load())
}

func TestScheduler_StopHonorsContext(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	s := NewScheduler(5*time.Millisecond, func(context.Context) {
		select {
		case entered <- struct{}{}:
		default:
			return
		}
		<-release
	})
	s.Start(context.Background())
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Running())
}
