package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/vprtutor/internal/observability"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned for tasks submitted to, or still queued in, a closed queue
var ErrClosed = errors.New("command queue closed")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs a warning when the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	started    bool
	pending    *Pending
}

// laneState holds the FIFO of one lane. At most one task per lane runs at a time.
type laneState struct {
	queue   []*taskRecord
	running bool
	mu      sync.Mutex
}

// Pending is the handle of a submitted task
type Pending struct {
	ID   string
	Lane string

	done  chan struct{}
	value interface{}
	err   error
}

func newPending(id, lane string) *Pending {
	return &Pending{ID: id, Lane: lane, done: make(chan struct{})}
}

func (p *Pending) finish(value interface{}, err error) {
	p.value = value
	p.err = err
	close(p.done)
}

// Done is closed once the task has finished or was rejected
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the task finishes or ctx is done.
// A ctx expiry does not cancel the task itself.
func (p *Pending) Wait(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Lanes   int
	Queued  int
	Running int
}

// CommandQueue serializes tasks per lane; different lanes run concurrently.
// Lanes are created on first use and removed once drained.
type CommandQueue struct {
	name      string
	lanes     map[string]*laneState
	taskIDSeq int
	pending   int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a CommandQueue; name labels its metrics
func New(name string) *CommandQueue {
	observability.EnsureRegistered()

	if name == "" {
		name = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		name:   name,
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the queue name
func (cq *CommandQueue) Name() string {
	return cq.name
}

// Enqueue runs task on lane and waits for its result
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext runs task on lane and waits for its result or for ctx to end
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	p, err := cq.Submit(ctx, lane, task, options)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Submit appends task to lane and returns without waiting.
// Calls made in order from one goroutine run in that order on their lane.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task, options *TaskOptions) (*Pending, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if task == nil {
		return nil, fmt.Errorf("task is required")
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"vprtutor.commandqueue",
		"commandqueue.submit",
		attribute.String("queue", cq.name),
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, lane)
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		span.SetStatus(codes.Error, ErrClosed.Error())
		return nil, ErrClosed
	}

	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		pending:    newPending(taskID, lane),
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	startWorker := !ls.running
	if startWorker {
		ls.running = true
		cq.wg.Add(1)
	}
	ls.mu.Unlock()

	cq.pending++
	pending := cq.pending
	cq.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(cq.name, pending)

	if opts.WarnAfter > 0 {
		cq.startWarnTimer(ls, record, lane)
	}

	if startWorker {
		go cq.drainLane(lane, ls)
	}

	return record.pending, nil
}

// drainLane runs the lane's tasks one at a time until it is empty, then removes it
func (cq *CommandQueue) drainLane(lane string, ls *laneState) {
	defer cq.wg.Done()

	for {
		cq.mu.Lock()
		ls.mu.Lock()
		if len(ls.queue) == 0 {
			ls.running = false
			if cq.lanes[lane] == ls {
				delete(cq.lanes, lane)
			}
			ls.mu.Unlock()
			cq.mu.Unlock()
			return
		}
		record := ls.queue[0]
		ls.queue[0] = nil
		ls.queue = ls.queue[1:]
		record.started = true
		ls.mu.Unlock()
		cq.mu.Unlock()

		cq.executeTask(lane, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"vprtutor.commandqueue",
		"commandqueue.execute_task",
		attribute.String("queue", cq.name),
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Dur("waited", time.Since(record.enqueuedAt)).
		Msg("Task started")

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	cq.mu.Lock()
	cq.pending--
	pending := cq.pending
	cq.mu.Unlock()

	record.pending.finish(value, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(cq.name, duration, err == nil, pending)
}

// runTask converts a panicking task into an error so the lane keeps draining
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer warns when a task is still waiting after WarnAfter
func (cq *CommandQueue) startWarnTimer(ls *laneState, record *taskRecord, lane string) {
	time.AfterFunc(record.options.WarnAfter, func() {
		ls.mu.Lock()
		queuePos := -1
		if !record.started {
			for i, r := range ls.queue {
				if r == record {
					queuePos = i
					break
				}
			}
		}
		ls.mu.Unlock()

		if queuePos < 0 {
			return
		}

		wait := time.Since(record.enqueuedAt)
		log.Warn().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("wait", wait).
			Int("queuePos", queuePos).
			Msg("Task waiting longer than expected")

		if record.options.OnWait != nil {
			record.options.OnWait(wait, queuePos)
		}
	})
}

// QueueSize returns the number of tasks waiting on a lane, excluding the running one
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	ls, exists := cq.lanes[lane]
	cq.mu.Unlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Stats returns queue totals across lanes
func (cq *CommandQueue) Stats() Stats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := Stats{Lanes: len(cq.lanes)}
	for _, ls := range cq.lanes {
		ls.mu.Lock()
		stats.Queued += len(ls.queue)
		ls.mu.Unlock()
	}
	stats.Running = cq.pending - stats.Queued
	return stats
}

// WaitForActive waits until no task is queued or running, up to timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		pending := cq.pending
		cq.mu.Unlock()

		if pending == 0 {
			log.Debug().Str("queue", cq.name).Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Str("queue", cq.name).Int("pending", pending).Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// IsClosed reports whether Close has been called
func (cq *CommandQueue) IsClosed() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.closed
}

// Close rejects queued tasks with ErrClosed, cancels running ones and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true

	rejected := 0
	for _, ls := range cq.lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			record.pending.finish(nil, ErrClosed)
			rejected++
		}
		ls.queue = nil
		ls.mu.Unlock()
	}
	cq.pending -= rejected
	pending := cq.pending
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()

	observability.SetQueueSize(cq.name, 0)
	log.Debug().Str("queue", cq.name).Int("rejected", rejected).Int("cancelled", pending).Msg("Command queue closed")
	return nil
}
