package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// counterBody increments *n every time it is resumed and suspends for one tick.
func counterBody(n *int) Body {
	return func(yield func(Wait) bool) {
		for {
			*n++
			if !yield(NextTick()) {
				return
			}
		}
	}
}

func TestStartDefersFirstRunToTick(t *testing.T) {
	s := New()
	runs := 0
	task := s.Start("counter", counterBody(&runs))
	assert.Equal(t, 0, runs)
	assert.Equal(t, 1, s.Len())

	s.Tick(epoch)
	assert.Equal(t, 1, runs)
	s.Tick(epoch)
	assert.Equal(t, 2, runs)

	task.Cancel()
	assert.True(t, task.Done())
	assert.True(t, task.Canceled())
	assert.Equal(t, 0, s.Len())
}

func TestCanceledBodyIsNeverResumed(t *testing.T) {
	s := New()
	runs := 0
	task := s.Start("counter", counterBody(&runs))
	s.Tick(epoch)
	s.Tick(epoch)
	require.Equal(t, 2, runs)

	task.Cancel()
	for i := 0; i < 5; i++ {
		s.Tick(epoch)
	}
	assert.Equal(t, 2, runs)
	assert.Equal(t, 0, s.Len())
}

func TestCancelBeforeFirstTick(t *testing.T) {
	s := New()
	runs := 0
	task := s.Start("counter", counterBody(&runs))
	task.Cancel()
	task.Cancel()
	s.Tick(epoch)
	assert.Equal(t, 0, runs)
	assert.True(t, task.Canceled())
}

func TestBodyCompletesNaturally(t *testing.T) {
	s := New()
	steps := []string{}
	task := s.Start("three-steps", func(yield func(Wait) bool) {
		steps = append(steps, "a")
		if !yield(NextTick()) {
			return
		}
		steps = append(steps, "b")
	})

	s.Tick(epoch)
	assert.False(t, task.Done())
	s.Tick(epoch)
	assert.True(t, task.Done())
	assert.False(t, task.Canceled())
	assert.Equal(t, []string{"a", "b"}, steps)
	assert.Equal(t, 0, s.Len())
}

func TestFinishedBody(t *testing.T) {
	s := New()
	task := s.Start("empty", Finished())
	s.Tick(epoch)
	assert.True(t, task.Done())

	nilTask := s.Start("nil", nil)
	assert.True(t, nilTask.Done())
	assert.Equal(t, 0, s.Len())
}

func TestWaitKinds(t *testing.T) {
	t.Run("ticks", func(t *testing.T) {
		s := New()
		resumed := false
		task := s.Start("ticks", func(yield func(Wait) bool) {
			if !yield(Ticks(3)) {
				return
			}
			resumed = true
		})
		s.Tick(epoch) // runs to the first suspension
		s.Tick(epoch)
		s.Tick(epoch)
		assert.False(t, resumed)
		s.Tick(epoch)
		assert.True(t, resumed)
		assert.True(t, task.Done())
	})

	t.Run("delay", func(t *testing.T) {
		s := New()
		resumed := false
		s.Start("delay", func(yield func(Wait) bool) {
			if !yield(Delay(time.Second)) {
				return
			}
			resumed = true
		})
		s.Tick(epoch)
		s.Tick(epoch.Add(500 * time.Millisecond))
		assert.False(t, resumed)
		s.Tick(epoch.Add(time.Second))
		assert.True(t, resumed)
	})

	t.Run("until and while", func(t *testing.T) {
		s := New()
		signal := false
		var order []string
		s.Start("until", func(yield func(Wait) bool) {
			if !yield(Until(func() bool { return signal })) {
				return
			}
			order = append(order, "until")
		})
		s.Start("while", func(yield func(Wait) bool) {
			if !yield(While(func() bool { return !signal })) {
				return
			}
			order = append(order, "while")
		})
		s.Tick(epoch)
		s.Tick(epoch)
		assert.Empty(t, order)

		signal = true
		s.Tick(epoch)
		assert.Equal(t, []string{"until", "while"}, order)
		assert.Equal(t, 0, s.Len())
	})
}

func TestCancelFromInsideOwnBody(t *testing.T) {
	s := New()
	var task *Task
	afterYield := false
	task = s.Start("self-cancel", func(yield func(Wait) bool) {
		task.Cancel()
		if !yield(NextTick()) {
			return
		}
		afterYield = true
	})

	s.Tick(epoch)
	s.Tick(epoch)
	assert.True(t, task.Canceled())
	assert.False(t, afterYield)
	assert.Equal(t, 0, s.Len())
}

func TestTaskStartedDuringTickRunsNextTick(t *testing.T) {
	s := New()
	childRuns := 0
	s.Start("parent", func(yield func(Wait) bool) {
		s.Start("child", counterBody(&childRuns))
	})

	s.Tick(epoch)
	assert.Equal(t, 0, childRuns)
	s.Tick(epoch)
	assert.Equal(t, 1, childRuns)
	s.Close()
	assert.Equal(t, 0, s.Len())
}

func TestBodyPanicIsRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := New(WithLogger(zap.New(core)))
	task := s.Start("faulty", func(yield func(Wait) bool) {
		panic("broken body")
	})

	require.NotPanics(t, func() { s.Tick(epoch) })
	assert.True(t, task.Done())
	assert.Equal(t, 0, s.Len())
	require.Equal(t, 1, logs.FilterMessage("task body panicked").Len())
}

func TestPanicDuringStopIsRecovered(t *testing.T) {
	// cleanupBody panics in the code that runs once its yield returns false.
	cleanupBody := func(cancelSelf func()) Body {
		return func(yield func(Wait) bool) {
			if cancelSelf != nil {
				cancelSelf()
			}
			if !yield(NextTick()) {
				panic("cleanup failed")
			}
		}
	}

	tests := []struct {
		name string
		stop func(s *Scheduler, task *Task)
		self bool
	}{
		{name: "cancel", stop: func(_ *Scheduler, task *Task) { task.Cancel() }},
		{name: "close", stop: func(s *Scheduler, _ *Task) { s.Close() }},
		{name: "cancel inside body", self: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			s := New(WithLogger(zap.New(core)))

			var task *Task
			var cancelSelf func()
			if tt.self {
				cancelSelf = func() { task.Cancel() }
			}
			task = s.Start("cleanup", cleanupBody(cancelSelf))

			require.NotPanics(t, func() {
				s.Tick(epoch)
				if tt.stop != nil {
					tt.stop(s, task)
				}
			})
			assert.True(t, task.Canceled())
			assert.Equal(t, 0, s.Len())
			require.Equal(t, 1, logs.FilterMessage("task body panicked while stopping").Len())

			require.NotPanics(t, func() { s.Tick(epoch) })
		})
	}
}

func TestPostRunsOnTick(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := New(WithLogger(zap.New(core)))

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Post(func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()
	s.Post(func() { panic("bad post") })
	s.Post(nil)

	assert.Empty(t, got)
	s.Tick(epoch)
	assert.Len(t, got, 10)
	assert.Equal(t, 1, logs.FilterMessage("posted function panicked").Len())
}

func TestCloseCancelsEverything(t *testing.T) {
	s := New()
	a, b := 0, 0
	ta := s.Start("a", counterBody(&a))
	tb := s.Start("b", counterBody(&b))
	s.Tick(epoch)

	s.Close()
	s.Tick(epoch)
	assert.True(t, ta.Canceled())
	assert.True(t, tb.Canceled())
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 0, s.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	var once sync.Once
	s.Post(func() { once.Do(func() { close(ran) }) })

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
