package scheduler

import (
	"fmt"
	"iter"
	"time"
)

type waitKind int

const (
	waitTicks waitKind = iota
	waitDelay
	waitUntil
	waitWhile
)

// Wait is a suspension point yielded by a Body. It tells the scheduler when
// the body may be resumed.
type Wait struct {
	kind  waitKind
	ticks int
	delay time.Duration
	cond  func() bool
}

// Body is the suspendable part of a task. It yields a Wait at every
// suspension point and must return as soon as yield reports false.
type Body = iter.Seq[Wait]

// NextTick resumes the body on the following tick.
func NextTick() Wait {
	return Wait{kind: waitTicks, ticks: 1}
}

// Ticks resumes the body after n ticks have elapsed. Values below one behave
// like NextTick.
func Ticks(n int) Wait {
	if n < 1 {
		n = 1
	}
	return Wait{kind: waitTicks, ticks: n}
}

// Delay resumes the body on the first tick at least d after the suspension.
func Delay(d time.Duration) Wait {
	return Wait{kind: waitDelay, delay: d}
}

// Until resumes the body on the first tick where cond reports true.
func Until(cond func() bool) Wait {
	return Wait{kind: waitUntil, cond: cond}
}

// While resumes the body on the first tick where cond reports false.
func While(cond func() bool) Wait {
	return Wait{kind: waitWhile, cond: cond}
}

// Finished returns a body that completes without suspending.
func Finished() Body {
	return func(func(Wait) bool) {}
}

func (w Wait) String() string {
	switch w.kind {
	case waitTicks:
		return fmt.Sprintf("ticks(%d)", w.ticks)
	case waitDelay:
		return fmt.Sprintf("delay(%s)", w.delay)
	case waitUntil:
		return "until"
	case waitWhile:
		return "while"
	default:
		return "unknown"
	}
}
