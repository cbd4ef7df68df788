package engine

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/roach88/scripthost/internal/ir"
)

// TaskFunc is the body of a delayed task.
type TaskFunc func(ctx context.Context) error

// Task states.
const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// Task is a cancellable handle for one delayed invocation.
type Task struct {
	id    uint64
	owner string
	due   int64
	fn    TaskFunc
	state atomic.Int32
	index int // position in the scheduler heap
}

// ID returns the scheduler-unique task id.
func (t *Task) ID() uint64 { return t.id }

// Owner returns the id of the script that scheduled the task.
func (t *Task) Owner() string { return t.owner }

// Due returns the tick at which the task fires.
func (t *Task) Due() int64 { return t.due }

// Cancelled reports whether the task was cancelled before it fired.
func (t *Task) Cancelled() bool { return t.state.Load() == taskCancelled }

// Fired reports whether the task was taken for execution.
func (t *Task) Fired() bool { return t.state.Load() == taskFired }

// cancel moves a pending task to cancelled. Returns false if it already
// fired or was already cancelled.
func (t *Task) cancel() bool {
	return t.state.CompareAndSwap(taskPending, taskCancelled)
}

// Scheduler runs delayed tasks against a TickClock.
//
// Tasks are owned by a script id so that discarding a script can cancel all
// of them at once. Tasks due on the same tick fire in scheduling order.
//
// INVARIANTS:
//   - byOwner only holds pending tasks
//   - the heap may hold cancelled tasks; they are skipped when popped
//   - s.mu is never held while a TaskFunc runs
type Scheduler struct {
	mu      sync.Mutex
	clock   *TickClock
	nextID  uint64
	pending taskHeap
	byOwner map[string]map[uint64]*Task
	closed  bool

	logger   *slog.Logger
	recorder ir.Recorder
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger used for task failures.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerRecorder sets the journal recorder for task lifecycle records.
func WithSchedulerRecorder(rec ir.Recorder) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = rec
	}
}

// NewScheduler creates a Scheduler driven by clock.
func NewScheduler(clock *TickClock, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:    clock,
		byOwner:  make(map[string]map[uint64]*Task),
		logger:   slog.Default(),
		recorder: ir.NopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the scheduler's tick clock.
func (s *Scheduler) Clock() *TickClock {
	return s.clock
}

// ScheduleDelayed schedules fn to run delayTicks after the current tick.
// A delay below 1 is treated as 1: the task runs on the next tick, never
// inside the call that scheduled it. A due tick past math.MaxInt64
// saturates there.
//
// After Close the returned task is already cancelled and never fires.
func (s *Scheduler) ScheduleDelayed(owner string, fn TaskFunc, delayTicks int64) *Task {
	if delayTicks < 1 {
		delayTicks = 1
	}

	s.mu.Lock()
	s.nextID++
	now := s.clock.Current()
	due := int64(math.MaxInt64)
	if delayTicks <= math.MaxInt64-now {
		due = now + delayTicks
	}
	task := &Task{
		id:    s.nextID,
		owner: owner,
		due:   due,
		fn:    fn,
	}
	if s.closed {
		task.state.Store(taskCancelled)
		s.mu.Unlock()
		return task
	}
	heap.Push(&s.pending, task)
	tasks := s.byOwner[owner]
	if tasks == nil {
		tasks = make(map[uint64]*Task)
		s.byOwner[owner] = tasks
	}
	tasks[task.id] = task
	s.mu.Unlock()

	s.recorder.Record(context.Background(), ir.Record{
		Kind:     ir.RecordTaskScheduled,
		ScriptID: owner,
		Task:     task.id,
		Detail:   ir.IRObject{"due": ir.IRInt(task.due)},
	})
	return task
}

// Cancel cancels a single task. Returns false if it already fired or was
// already cancelled.
func (s *Scheduler) Cancel(task *Task) bool {
	s.mu.Lock()
	ok := task.cancel()
	if ok {
		s.forget(task)
	}
	s.mu.Unlock()

	if ok {
		s.recordCancelled(task)
	}
	return ok
}

// CancelAll cancels every pending task owned by owner and returns how many
// were cancelled. Fired and already-cancelled tasks are ignored.
func (s *Scheduler) CancelAll(owner string) int {
	s.mu.Lock()
	tasks := s.byOwner[owner]
	delete(s.byOwner, owner)
	cancelled := make([]*Task, 0, len(tasks))
	for _, task := range tasks {
		if task.cancel() {
			cancelled = append(cancelled, task)
		}
	}
	s.mu.Unlock()

	for _, task := range cancelled {
		s.recordCancelled(task)
	}
	if len(cancelled) > 0 {
		s.logger.Debug("cancelled tasks", "script", owner, "count", len(cancelled))
	}
	return len(cancelled)
}

// Pending returns the number of tasks owner still has waiting.
func (s *Scheduler) Pending(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byOwner[owner])
}

// Advance moves the clock forward by ticks, firing due tasks after each
// step. Returns the number of tasks fired.
//
// Task failures (returned errors and panics) are logged and recorded; they
// never stop the remaining tasks.
func (s *Scheduler) Advance(ctx context.Context, ticks int64) int {
	fired := 0
	for i := int64(0); i < ticks; i++ {
		if ctx.Err() != nil {
			return fired
		}
		now := s.clock.Next()
		for _, task := range s.takeDue(now) {
			s.run(ctx, task)
			fired++
		}
	}
	return fired
}

// takeDue pops every pending task due at or before now, marking each fired.
func (s *Scheduler) takeDue(now int64) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for s.pending.Len() > 0 && s.pending[0].due <= now {
		task := heap.Pop(&s.pending).(*Task)
		if !task.state.CompareAndSwap(taskPending, taskFired) {
			continue // cancelled while waiting
		}
		s.forget(task)
		due = append(due, task)
	}
	return due
}

// forget removes task from the owner index. Caller holds s.mu.
func (s *Scheduler) forget(task *Task) {
	tasks := s.byOwner[task.owner]
	delete(tasks, task.id)
	if len(tasks) == 0 {
		delete(s.byOwner, task.owner)
	}
}

func (s *Scheduler) run(ctx context.Context, task *Task) {
	err := safeRun(ctx, task.fn)
	if err != nil {
		s.logger.Error("task failed",
			"script", task.owner,
			"task", task.id,
			"tick", s.clock.Current(),
			"error", err,
		)
		s.recorder.Record(ctx, ir.Record{
			Kind:     ir.RecordTaskFailed,
			ScriptID: task.owner,
			Task:     task.id,
			Detail:   ir.IRObject{"error": ir.IRString(err.Error())},
		})
		return
	}
	s.recorder.Record(ctx, ir.Record{
		Kind:     ir.RecordTaskFired,
		ScriptID: task.owner,
		Task:     task.id,
	})
}

func (s *Scheduler) recordCancelled(task *Task) {
	s.recorder.Record(context.Background(), ir.Record{
		Kind:     ir.RecordTaskCancelled,
		ScriptID: task.owner,
		Task:     task.id,
	})
}

// Close cancels everything and rejects further scheduling. Tasks do not
// outlive the process.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, task := range s.pending {
		task.cancel()
	}
	s.pending = nil
	s.byOwner = make(map[string]map[uint64]*Task)
}

func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// taskHeap orders tasks by due tick, then by id (scheduling order).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].id < h[j].id
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // allow GC of the task body
	task.index = -1
	*h = old[:n-1]
	return task
}
