// Package scheduler runs cooperative task bodies from a single owner
// goroutine. Bodies suspend by yielding a Wait and are resumed by Tick once
// the wait is satisfied; at most one body executes at any moment.
package scheduler

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a body started on a Scheduler. Its methods must be called from the
// goroutine that drives Tick.
type Task struct {
	name  string
	sched *Scheduler
	body  Body

	next func() (Wait, bool)
	stop func()

	started   bool
	running   bool
	done      bool
	canceled  bool
	ticksLeft int
	resumeAt  time.Time
	wait      Wait
}

// Name returns the name the task was started with.
func (t *Task) Name() string {
	return t.name
}

// Done reports whether the task finished, failed or was canceled.
func (t *Task) Done() bool {
	return t.done
}

// Canceled reports whether the task was canceled before finishing.
func (t *Task) Canceled() bool {
	return t.canceled
}

// Cancel stops the task. The body is never resumed again; its pending yield
// returns false. Canceling a task from inside its own body takes effect when
// the body next suspends.
func (t *Task) Cancel() {
	if t == nil || t.done {
		return
	}
	t.canceled = true
	t.sched.finish(t)
	if t.running {
		return
	}
	t.release()
}

// release stops the body's iterator. Code after the body's pending yield runs
// inside stop, so a panic there is recovered here as it is in step.
func (t *Task) release() {
	if t.stop == nil {
		return
	}
	stop := t.stop
	t.stop = nil
	t.next = nil

	defer func() {
		if r := recover(); r != nil {
			t.sched.logger.Error("task body panicked while stopping",
				zap.String("task", t.name),
				zap.Any("panic", r),
			)
		}
	}()
	stop()
}

func (t *Task) ready(now time.Time) bool {
	if !t.started {
		return true
	}
	switch t.wait.kind {
	case waitTicks:
		t.ticksLeft--
		return t.ticksLeft <= 0
	case waitDelay:
		return !now.Before(t.resumeAt)
	case waitUntil:
		return t.wait.cond == nil || t.wait.cond()
	case waitWhile:
		return t.wait.cond == nil || !t.wait.cond()
	default:
		return true
	}
}

func (t *Task) arm(w Wait, now time.Time) {
	t.wait = w
	switch w.kind {
	case waitTicks:
		t.ticksLeft = w.ticks
	case waitDelay:
		t.resumeAt = now.Add(w.delay)
	}
}

// Scheduler owns the live tasks and the queue of posted functions.
type Scheduler struct {
	logger *zap.Logger

	tasks []*Task
	live  atomic.Int64

	postMu sync.Mutex
	posted []func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for body and posted-function failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs an idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers body as a new task. The body first runs on the next Tick.
func (s *Scheduler) Start(name string, body Body) *Task {
	t := &Task{name: name, sched: s, body: body}
	if body == nil {
		t.done = true
		return t
	}
	s.tasks = append(s.tasks, t)
	s.live.Add(1)
	return t
}

// Post queues fn to run on the owner goroutine at the start of the next Tick.
// It is safe to call from any goroutine.
func (s *Scheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	s.postMu.Lock()
	s.posted = append(s.posted, fn)
	s.postMu.Unlock()
}

// Tick runs posted functions, then resumes every task whose wait is
// satisfied, once each and in start order. Tasks started during the tick
// first run on the following tick.
func (s *Scheduler) Tick(now time.Time) {
	s.runPosted()

	pending := s.tasks
	for _, t := range pending {
		if t.done || !t.ready(now) {
			continue
		}
		s.resume(t, now)
	}
	s.compact()
}

// Run drives Tick at the given interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Close cancels every live task and drops queued posts.
func (s *Scheduler) Close() {
	for _, t := range s.tasks {
		t.Cancel()
	}
	s.tasks = nil
	s.postMu.Lock()
	s.posted = nil
	s.postMu.Unlock()
}

// Len returns the number of live tasks. It is safe to call from any goroutine.
func (s *Scheduler) Len() int {
	return int(s.live.Load())
}

func (s *Scheduler) resume(t *Task, now time.Time) {
	if t.next == nil {
		t.next, t.stop = iter.Pull(t.body)
	}
	t.started = true
	t.running = true
	w, ok, failed := s.step(t)
	t.running = false

	switch {
	case t.canceled:
		t.release()
	case failed || !ok:
		s.finish(t)
		t.release()
	default:
		t.arm(w, now)
	}
}

func (s *Scheduler) step(t *Task) (w Wait, ok bool, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task body panicked",
				zap.String("task", t.name),
				zap.Any("panic", r),
			)
			failed = true
		}
	}()
	w, ok = t.next()
	return w, ok, false
}

func (s *Scheduler) finish(t *Task) {
	if t.done {
		return
	}
	t.done = true
	s.live.Add(-1)
}

func (s *Scheduler) compact() {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.done {
			live = append(live, t)
		}
	}
	clear(s.tasks[len(live):])
	s.tasks = live
}

func (s *Scheduler) runPosted() {
	s.postMu.Lock()
	queue := s.posted
	s.posted = nil
	s.postMu.Unlock()

	for _, fn := range queue {
		s.runSafely(fn)
	}
}

func (s *Scheduler) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("posted function panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
