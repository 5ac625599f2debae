package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
)

const tracerName = "standup/commandqueue"

// ErrClosed is returned for tasks enqueued on, or still queued in, a closed queue.
var ErrClosed = errors.New("commandqueue: closed")

// Task is one unit of work run inside a lane.
type Task func(ctx context.Context) error

// TaskOptions tunes a single Enqueue call.
type TaskOptions struct {
	// WarnAfter logs a warning (and calls OnWait) when the task is still
	// queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)

	// RequestID, when set, makes the task idempotent: a second task with the
	// same id within the dedup window is not run and returns the first
	// task's result.
	RequestID string
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan error
}

type laneState struct {
	queue   []*taskRecord
	running bool
}

// EventHandler observes queue activity.
type EventHandler func(event Event)

// Event types.
const (
	EventEnqueued  = "enqueued"
	EventCompleted = "completed"
)

// Event describes queue activity on a lane.
type Event struct {
	Type     string
	Lane     string
	TaskID   string
	Duration time.Duration
	Err      error
}

// CommandQueue runs tasks in per-key lanes.
type CommandQueue struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	dedup  *dedupCache

	eventMu       sync.RWMutex
	eventHandlers map[string][]EventHandler
}

// New creates an empty queue.
func New() *CommandQueue {
	return NewWithDedupWindow(defaultDedupTTL)
}

// NewWithDedupWindow creates a queue that remembers request ids for ttl.
func NewWithDedupWindow(ttl time.Duration) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		dedup:         newDedupCache(ctx, ttl),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Enqueue runs task in lane after every task queued before it and waits
// for its result. If ctx ends while the task is still queued, the task is
// skipped and ctx.Err() returned.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.enqueue", attribute.String("lane", lane))
	defer func() { tracing.EndSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	if opts.RequestID != "" {
		if prev, ok := cq.dedup.Get(opts.RequestID); ok {
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Debug().
				Str("lane", lane).
				Str("request_id", opts.RequestID).
				Msg("Duplicate request skipped")
			return prev.err
		}
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return ErrClosed
	}
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan error, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	start := !ls.running
	if start {
		ls.running = true
		cq.wg.Add(1)
	}
	cq.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)
	cq.emit(Event{Type: EventEnqueued, Lane: lane, TaskID: record.id})

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}
	if start {
		go cq.drain(lane, ls)
	}

	select {
	case err := <-record.result:
		if opts.RequestID != "" && !errors.Is(err, ErrClosed) {
			cq.dedup.Set(opts.RequestID, taskResult{err: err})
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs the lane's tasks until its queue is empty, then drops the lane.
func (cq *CommandQueue) drain(lane string, ls *laneState) {
	defer cq.wg.Done()

	for {
		cq.mu.Lock()
		if len(ls.queue) == 0 {
			ls.running = false
			delete(cq.lanes, lane)
			cq.mu.Unlock()
			observability.ForgetLane(lane)
			return
		}
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		closed := cq.closed
		cq.mu.Unlock()

		if closed {
			record.result <- ErrClosed
			continue
		}
		if err := record.ctx.Err(); err != nil {
			record.result <- err
			continue
		}

		cq.execute(lane, ls, record)
	}
}

func (cq *CommandQueue) execute(lane string, ls *laneState, record *taskRecord) {
	taskCtx, span := tracing.StartSpan(record.ctx, tracerName, "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)

	startTime := time.Now()
	err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	stopCancel()
	cancel()
	tracing.EndSpan(span, err)

	cq.mu.Lock()
	queueSize := len(ls.queue)
	cq.mu.Unlock()

	record.result <- err

	if err != nil {
		logger.Error().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)
	cq.emit(Event{Type: EventCompleted, Lane: lane, TaskID: record.id, Duration: duration, Err: err})
}

// run keeps a panicking task from taking its lane down with it.
func (cq *CommandQueue) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commandqueue: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-cq.ctx.Done():
		return
	case <-record.ctx.Done():
		return
	}

	cq.mu.Lock()
	queuePos := -1
	if ls, ok := cq.lanes[lane]; ok {
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
	}
	cq.mu.Unlock()

	if queuePos < 0 {
		return
	}
	wait := time.Since(record.enqueuedAt)
	log.Warn().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("wait", wait).
		Int("queue_pos", queuePos).
		Msg("Task waiting longer than expected")
	if record.options.OnWait != nil {
		record.options.OnWait(wait, queuePos)
	}
}

// QueueSize returns the number of tasks waiting in lane, excluding the
// running one.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// Stats reports queued task counts for every live lane.
func (cq *CommandQueue) Stats() map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	stats := make(map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		stats[lane] = len(ls.queue)
	}
	return stats
}

// Lanes returns the number of live lanes.
func (cq *CommandQueue) Lanes() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// WaitForActive waits until every lane has drained or timeout passes.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All active tasks completed")
		return true
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
		return false
	}
}

// Close rejects queued tasks, cancels running ones and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}

// On registers an event handler for eventType.
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()
	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
