// Package battle implements a turn-based state machine whose states run
// cooperative bodies on a scheduler and announce transitions on an event bus.
package battle

import (
	"context"

	"github.com/google/uuid"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/scheduler"
	"go.uber.org/zap"
)

// Runner starts state bodies. *scheduler.Scheduler satisfies it.
type Runner interface {
	Start(name string, body scheduler.Body) *scheduler.Task
}

// Machine drives one battle at a time over owner context T. It is not safe
// for concurrent use: call it from the goroutine that ticks the runner, or
// hand work over with scheduler.Post.
type Machine[T any] struct {
	owner  T
	bus    *eventbus.Bus
	runner Runner
	logger *zap.Logger

	current    State[T]
	active     bool
	battleID   string
	turn       int
	generation uint64
	task       *scheduler.Task
	cancelBody context.CancelFunc
}

// NewMachine creates an idle machine.
func NewMachine[T any](owner T, bus *eventbus.Bus, runner Runner, logger *zap.Logger) *Machine[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine[T]{
		owner:  owner,
		bus:    bus,
		runner: runner,
		logger: logger,
	}
}

// Owner returns the context shared by every state of this machine.
func (m *Machine[T]) Owner() T {
	return m.owner
}

// CurrentState returns the state occupying the current turn, or nil.
func (m *Machine[T]) CurrentState() State[T] {
	return m.current
}

// IsBattleActive reports whether a battle is running.
func (m *Machine[T]) IsBattleActive() bool {
	return m.active
}

// BattleID returns the identifier of the running battle, or "" when idle.
func (m *Machine[T]) BattleID() string {
	return m.battleID
}

// Turn returns how many states have been entered in the running battle.
func (m *Machine[T]) Turn() int {
	return m.turn
}

// StartBattle begins a new battle at initial. A battle that is still running
// is ended as a loss first.
func (m *Machine[T]) StartBattle(initial State[T]) {
	if m.active {
		m.logger.Warn("battle already active, forcing reset",
			zap.String("battle_id", m.battleID),
			zap.String("state", stateName[T](m.current)),
		)
		m.EndBattle(false)
	}

	m.active = true
	m.battleID = uuid.NewString()
	m.turn = 0
	m.logger.Info("battle started",
		zap.String("battle_id", m.battleID),
		zap.String("state", stateName[T](initial)),
	)
	m.transition(initial)
}

// NextTurn moves the running battle to next. Without an active battle the
// request is logged and ignored.
func (m *Machine[T]) NextTurn(next State[T]) {
	if !m.active {
		m.logger.Warn("next turn requested with no active battle",
			zap.String("state", stateName[T](next)),
		)
		return
	}
	m.transition(next)
}

// EndBattle finishes the running battle and raises BattleEndedEvent. It does
// nothing when no battle is active.
func (m *Machine[T]) EndBattle(isWin bool) {
	if !m.active {
		return
	}

	if m.current != nil {
		m.current.Exit()
	}
	m.stopBody()
	m.current = nil
	m.active = false
	m.generation++

	ended := BattleEndedEvent{BattleID: m.battleID, IsWin: isWin, Turns: m.turn}
	m.battleID = ""
	m.logger.Info("battle ended",
		zap.String("battle_id", ended.BattleID),
		zap.Bool("win", isWin),
		zap.Int("turns", ended.Turns),
	)
	eventbus.Raise(m.bus, ended)
}

func (m *Machine[T]) transition(next State[T]) {
	if m.current != nil {
		m.current.Exit()
	}
	m.stopBody()
	m.current = next
	m.generation++
	if next == nil {
		return
	}

	// Listeners and Enter may themselves move the machine on; a changed
	// generation means next is no longer current and must not start.
	generation := m.generation
	m.turn++
	eventbus.Raise(m.bus, BattleStateChangedEvent{
		BattleID: m.battleID,
		State:    next.Name(),
		Turn:     m.turn,
	})
	if m.generation != generation {
		return
	}

	next.Enter()
	if m.generation != generation {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelBody = cancel
	m.task = m.runner.Start(next.Name(), next.Execute(ctx))
	m.logger.Debug("turn started",
		zap.String("battle_id", m.battleID),
		zap.String("state", next.Name()),
		zap.Int("turn", m.turn),
	)
}

func (m *Machine[T]) stopBody() {
	if m.cancelBody != nil {
		m.cancelBody()
		m.cancelBody = nil
	}
	if m.task != nil {
		m.task.Cancel()
		m.task = nil
	}
}

func stateName[T any](s State[T]) string {
	if s == nil {
		return ""
	}
	return s.Name()
}
