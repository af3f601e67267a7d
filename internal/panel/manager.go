// Package panel manages a navigation stack of named UI panels. Panels are
// registered explicitly by key; only the top of the stack is shown.
package panel

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/magefree/turnkit/internal/eventbus"
	"go.uber.org/zap"
)

// ErrUnknownPanel is returned when opening a key that was never registered.
var ErrUnknownPanel = errors.New("panel: unknown panel")

// Panel is anything that can be shown and hidden. Show and Hide run under
// the manager's lock and must not call back into it.
type Panel interface {
	Show()
	Hide()
}

// PanelOpenedEvent is raised when a panel becomes the top of the stack.
type PanelOpenedEvent struct {
	Key   string
	Depth int
}

// PanelClosedEvent is raised when a panel is popped off the stack.
type PanelClosedEvent struct {
	Key   string
	Depth int
}

// Manager owns the panel registry and the navigation stack.
type Manager struct {
	mu     sync.Mutex
	panels map[string]Panel
	stack  []string
	bus    *eventbus.Bus
	logger *zap.Logger
}

// NewManager creates a manager over the given panels. The map is copied.
func NewManager(bus *eventbus.Bus, logger *zap.Logger, panels map[string]Panel) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		panels: make(map[string]Panel, len(panels)),
		bus:    bus,
		logger: logger,
	}
	for key, p := range panels {
		m.panels[key] = p
	}
	return m
}

// Register adds or replaces the panel for key.
func (m *Manager) Register(key string, p Panel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.panels[key]; exists {
		m.logger.Warn("replacing registered panel", zap.String("panel", key))
	}
	m.panels[key] = p
}

// Open shows the panel for key on top of the stack. If the panel is already
// open further down, the panels above it are closed instead.
func (m *Manager) Open(key string) error {
	m.mu.Lock()
	p, ok := m.panels[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPanel, key)
	}

	if idx := slices.Index(m.stack, key); idx >= 0 {
		closed := m.popAbove(idx)
		m.mu.Unlock()
		m.raiseClosed(closed)
		return nil
	}

	if top, ok := m.top(); ok {
		m.panels[top].Hide()
	}
	m.stack = append(m.stack, key)
	depth := len(m.stack)
	p.Show()
	m.mu.Unlock()

	m.logger.Debug("panel opened", zap.String("panel", key), zap.Int("depth", depth))
	eventbus.Raise(m.bus, PanelOpenedEvent{Key: key, Depth: depth})
	return nil
}

// Back closes the top panel and re-shows the one beneath it. It reports
// false when the stack is empty.
func (m *Manager) Back() bool {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return false
	}
	closed := m.popAbove(len(m.stack) - 2)
	m.mu.Unlock()

	m.raiseClosed(closed)
	return true
}

// CloseAll hides every open panel and empties the stack.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	closed := m.popAbove(-1)
	m.mu.Unlock()
	m.raiseClosed(closed)
}

// Top returns the key of the visible panel.
func (m *Manager) Top() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.top()
}

// Depth returns the number of open panels.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// IsOpen reports whether key is anywhere on the stack.
func (m *Manager) IsOpen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.stack, key)
}

func (m *Manager) top() (string, bool) {
	if len(m.stack) == 0 {
		return "", false
	}
	return m.stack[len(m.stack)-1], true
}

// popAbove hides and removes every entry above index keep, then shows the
// new top. It returns the closed events in closing order. Callers hold mu.
func (m *Manager) popAbove(keep int) []PanelClosedEvent {
	var closed []PanelClosedEvent
	for len(m.stack)-1 > keep {
		key := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		m.panels[key].Hide()
		closed = append(closed, PanelClosedEvent{Key: key, Depth: len(m.stack)})
	}
	if len(closed) > 0 {
		if top, ok := m.top(); ok {
			m.panels[top].Show()
		}
	}
	return closed
}

func (m *Manager) raiseClosed(closed []PanelClosedEvent) {
	for _, e := range closed {
		m.logger.Debug("panel closed", zap.String("panel", e.Key), zap.Int("depth", e.Depth))
		eventbus.Raise(m.bus, e)
	}
}
