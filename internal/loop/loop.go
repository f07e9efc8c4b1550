package loop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// DefaultMaxSteps bounds how many tasks a single Run may execute. It stops
// a task that keeps rescheduling itself from spinning forever.
const DefaultMaxSteps = 100_000

// ErrStepLimit is returned by Run when the step quota is exhausted.
var ErrStepLimit = errors.New("loop: step limit exceeded")

// Task is a unit of work resumed by the loop.
type Task func(ctx context.Context)

type entry struct {
	ctx  context.Context
	task Task
	seq  int64
	due  time.Duration
}

// Loop is a single-threaded cooperative scheduler.
//
// Thread-safety model:
//   - Post/After/Len/Now/Close: safe from any goroutine
//   - Run: must be called from exactly one goroutine at a time
type Loop struct {
	mu     sync.Mutex
	ready  *queue.Queue // of *entry, FIFO
	timers timerHeap
	now    time.Duration
	clock  *Clock
	closed bool

	steps    int
	maxSteps int
	logger   *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxSteps sets the maximum number of tasks per Run. Zero or negative
// disables the limit.
//
// Default: DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(l *Loop) {
		l.maxSteps = n
	}
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates an idle Loop at virtual time zero.
func New(opts ...Option) *Loop {
	l := &Loop{
		ready:    queue.New(),
		clock:    NewClock(),
		maxSteps: DefaultMaxSteps,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post schedules task to run with ctx as soon as the loop gets to it.
// Returns false if the loop is closed.
func (l *Loop) Post(ctx context.Context, task Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.ready.Add(&entry{ctx: ctx, task: task, seq: l.clock.Next(), due: l.now})
	return true
}

// After schedules task to run with ctx once virtual time has advanced by d.
// Negative delays are treated as zero. Returns false if the loop is closed.
func (l *Loop) After(ctx context.Context, d time.Duration, task Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	if d < 0 {
		d = 0
	}
	heap.Push(&l.timers, &entry{ctx: ctx, task: task, seq: l.clock.Next(), due: l.now + d})
	return true
}

// Now returns the current virtual time.
func (l *Loop) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Len returns the number of pending tasks, posted and timed.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready.Length() + len(l.timers)
}

// Steps returns how many tasks have run so far.
func (l *Loop) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.steps
}

// Close stops the loop from accepting new tasks. Pending tasks are dropped
// by the next Run.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.ready = queue.New()
	for i := range l.timers {
		l.timers[i] = nil
	}
	l.timers = nil
}

// Run executes tasks until none are left, ctx is cancelled, or the step
// limit is hit. A task that panics propagates out of Run.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("loop starting", "pending", l.Len())

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("loop stopping: context cancelled", "steps", l.Steps())
			return err
		}

		e, ok := l.next()
		if !ok {
			l.logger.Debug("loop idle", "steps", l.Steps(), "now", l.Now())
			return nil
		}
		if e == nil {
			return fmt.Errorf("%w (%d)", ErrStepLimit, l.maxSteps)
		}

		e.task(e.ctx)
	}
}

// next pops the next runnable entry and advances virtual time for timers.
// It returns (nil, true) when the step limit has been reached.
func (l *Loop) next() (*entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var e *entry
	switch {
	case l.ready.Length() > 0:
		e = l.ready.Remove().(*entry)
	case len(l.timers) > 0:
		e = heap.Pop(&l.timers).(*entry)
		if e.due > l.now {
			l.now = e.due
		}
	default:
		return nil, false
	}

	if l.maxSteps > 0 && l.steps >= l.maxSteps {
		l.logger.Error("loop step limit exceeded", "max_steps", l.maxSteps)
		return nil, true
	}
	l.steps++
	return e, true
}

// timerHeap orders timers by due time, then by scheduling sequence.
type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
