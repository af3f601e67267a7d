package battle

import (
	"context"

	"github.com/magefree/turnkit/internal/scheduler"
)

// State is one turn of a battle. The machine calls Enter once when the state
// becomes current, runs the body returned by Execute until it finishes or the
// machine moves on, and calls Exit once when the state is superseded or the
// battle ends. A state instance is not reused after Exit. Embedding Base
// supplies Owner and the no-op lifecycle.
type State[T any] interface {
	Name() string
	Owner() T
	Enter()
	Execute(ctx context.Context) scheduler.Body
	Exit()
}

// Base provides the default no-op lifecycle and the owner/machine references
// that concrete states embed.
type Base[T any] struct {
	owner   T
	machine *Machine[T]
}

// NewBase binds a state to its owner and to the machine driving it.
func NewBase[T any](owner T, machine *Machine[T]) Base[T] {
	return Base[T]{owner: owner, machine: machine}
}

// Owner returns the context the state acts on. It is borrowed, not owned.
func (b Base[T]) Owner() T {
	return b.owner
}

// Machine returns the machine, for states that trigger their own transitions.
func (b Base[T]) Machine() *Machine[T] {
	return b.machine
}

// Enter does nothing.
func (b Base[T]) Enter() {}

// Execute returns a body that finishes immediately.
func (b Base[T]) Execute(context.Context) scheduler.Body {
	return scheduler.Finished()
}

// Exit does nothing.
func (b Base[T]) Exit() {}
