package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	err := cq.Enqueue(context.Background(), "19:a@thread", func(ctx context.Context) error {
		executed = true
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	err := cq.Enqueue(context.Background(), "19:a@thread", func(ctx context.Context) error {
		return expectedErr
	}, nil)

	assert.ErrorIs(t, err, expectedErr)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New()
	defer cq.Close()

	err := cq.Enqueue(context.Background(), "19:a@thread", func(ctx context.Context) error {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The lane keeps working.
	err = cq.Enqueue(context.Background(), "19:a@thread", func(ctx context.Context) error { return nil }, nil)
	assert.NoError(t, err)
}

func TestCommandQueue_SerialExecutionPerLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	var running, maxRunning int32
	var order []int
	var mu sync.Mutex

	release := make(chan struct{})
	firstStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error {
			close(firstStarted)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		}, nil)
	}()
	<-firstStarted

	for i := 1; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
				return nil
			}, nil)
		}()
	}

	require.Eventually(t, func() bool { return cq.QueueSize("lane") == 4 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, 5)
	assert.Equal(t, 0, order[0])
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCommandQueue_LanesRunConcurrently(t *testing.T) {
	cq := New()
	defer cq.Close()

	started := make(chan string, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for _, lane := range []string{"conv-1", "conv-2"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) error {
				started <- lane
				<-release
				return nil
			}, nil)
		}()
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case lane := <-started:
			got[lane] = true
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()

	assert.Len(t, got, 2)
	assert.Eventually(t, func() bool { return cq.Lanes() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCommandQueue_CanceledWhileQueued(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}, nil)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	done := make(chan error, 1)
	go func() {
		done <- cq.Enqueue(ctx, "lane", func(ctx context.Context) error {
			ran = true
			return nil
		}, nil)
	}()

	require.Eventually(t, func() bool { return cq.QueueSize("lane") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
	assert.False(t, ran)
}

func TestCommandQueue_RequestIDDedup(t *testing.T) {
	cq := New()
	defer cq.Close()

	var runs int32
	task := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	opts := &TaskOptions{RequestID: "activity-1"}

	require.NoError(t, cq.Enqueue(context.Background(), "lane", task, opts))
	require.NoError(t, cq.Enqueue(context.Background(), "lane", task, opts))
	require.NoError(t, cq.Enqueue(context.Background(), "lane", task, &TaskOptions{RequestID: "activity-2"}))

	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}, nil)
	}()
	<-started

	waited := make(chan int, 1)
	go func() {
		_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error { return nil }, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait: func(wait time.Duration, pos int) {
				waited <- pos
			},
		})
	}()

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait not called")
	}
	close(release)
}

func TestCommandQueue_CloseRejects(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}, nil)
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-result, context.Canceled)

	err := cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandQueue_Events(t *testing.T) {
	cq := New()
	defer cq.Close()

	var mu sync.Mutex
	var events []Event
	record := func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	cq.On(EventEnqueued, record)
	cq.On(EventCompleted, record)

	boom := errors.New("boom")
	_ = cq.Enqueue(context.Background(), "lane", func(ctx context.Context) error { return boom }, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventEnqueued, events[0].Type)
	assert.Equal(t, "lane", events[0].Lane)
	assert.Equal(t, EventCompleted, events[1].Type)
	assert.Equal(t, events[0].TaskID, events[1].TaskID)
	assert.ErrorIs(t, events[1].Err, boom)
}
