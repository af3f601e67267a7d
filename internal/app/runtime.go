// Package app assembles the shared services a turnkit process runs on.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/magefree/turnkit/internal/config"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/history"
	"github.com/magefree/turnkit/internal/metrics"
	"github.com/magefree/turnkit/internal/panel"
	"github.com/magefree/turnkit/internal/repository"
	"github.com/magefree/turnkit/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Attacher is anything that subscribes itself to the bus, such as the
// spectator hub. Attachers are compared with == by Detach, so use pointers
// or other comparable types.
type Attacher interface {
	Attach(bus *eventbus.Bus) []eventbus.Subscription
}

// HealthReporter receives the runtime's serving status.
type HealthReporter interface {
	SetServing(serving bool)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPanels registers the panels the panel manager starts with.
func WithPanels(panels map[string]panel.Panel) Option {
	return func(r *Runtime) {
		r.initialPanels = panels
	}
}

// WithAttacher adds a subscriber that is re-attached on every ResetToMenu.
func WithAttacher(a Attacher) Option {
	return func(r *Runtime) {
		r.attachers = append(r.attachers, a)
	}
}

// WithHealth reports serving status to h.
func WithHealth(h HealthReporter) Option {
	return func(r *Runtime) {
		r.health = h
	}
}

// WithStore uses store instead of opening one from the store config.
func WithStore(store repository.Store) Option {
	return func(r *Runtime) {
		r.store = store
	}
}

// Runtime owns the process-wide bus, scheduler and panel stack. There is one
// per process and it is passed to whatever needs it.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	bus      *eventbus.Bus
	sched    *scheduler.Scheduler
	registry *prometheus.Registry
	metrics  *metrics.Collector
	panels   *panel.Manager
	store    repository.Store
	recorder *history.Recorder
	health   HealthReporter

	initialPanels map[string]panel.Panel

	// attachMu guards the attacher list and the live subscription handles.
	attachMu  sync.Mutex
	attachers []Attacher
	own       []eventbus.Subscription
	attached  map[Attacher][]eventbus.Subscription

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a runtime from cfg. When the store driver is not "none" the
// store is opened and a history recorder is attached.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.sched = scheduler.New(scheduler.WithLogger(logger.Named("scheduler")))

	collector, err := metrics.New(r.registry, r.sched.Len)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	r.metrics = collector

	r.bus = eventbus.New(
		eventbus.WithLogger(logger.Named("eventbus")),
		eventbus.WithObserver(collector),
	)
	r.panels = panel.NewManager(r.bus, logger.Named("panel"), r.initialPanels)

	if r.store == nil && cfg.Store.Driver != "" && cfg.Store.Driver != "none" {
		store, err := repository.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		r.store = store
	}
	if r.store != nil {
		r.recorder = history.NewRecorder(r.store, cfg.Store.Timeout, logger.Named("history"))
	}

	r.attachMu.Lock()
	r.attach()
	r.attachMu.Unlock()
	if r.health != nil {
		r.health.SetServing(true)
	}

	logger.Info("runtime initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("attachers", len(r.attachers)),
	)
	return r, nil
}

// attach subscribes the runtime's own listeners and every attacher, keeping
// the handles. Callers hold attachMu.
func (r *Runtime) attach() {
	r.own = r.metrics.Attach(r.bus)
	if r.recorder != nil {
		r.own = append(r.own, r.recorder.Attach(r.bus)...)
	}
	r.attached = make(map[Attacher][]eventbus.Subscription, len(r.attachers))
	for _, a := range r.attachers {
		r.attached[a] = a.Attach(r.bus)
	}
}

// Detach unsubscribes a and stops re-attaching it on ResetToMenu. It reports
// whether a was attached. It is safe to call from any goroutine.
func (r *Runtime) Detach(a Attacher) bool {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()

	for i, cur := range r.attachers {
		if cur != a {
			continue
		}
		r.attachers = append(r.attachers[:i:i], r.attachers[i+1:]...)
		for _, sub := range r.attached[a] {
			eventbus.Unsubscribe(r.bus, sub)
		}
		delete(r.attached, a)
		r.logger.Debug("attacher detached", zap.Int("attachers", len(r.attachers)))
		return true
	}
	return false
}

// Subscriptions returns the number of live subscriptions the runtime holds
// for its own listeners and its attachers.
func (r *Runtime) Subscriptions() int {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()
	n := len(r.own)
	for _, subs := range r.attached {
		n += len(subs)
	}
	return n
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Bus returns the shared event bus.
func (r *Runtime) Bus() *eventbus.Bus {
	return r.bus
}

// Scheduler returns the shared scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler {
	return r.sched
}

// Panels returns the panel stack.
func (r *Runtime) Panels() *panel.Manager {
	return r.panels
}

// Metrics returns the metrics collector.
func (r *Runtime) Metrics() *metrics.Collector {
	return r.metrics
}

// Registry returns the Prometheus registry the collectors are registered on.
func (r *Runtime) Registry() *prometheus.Registry {
	return r.registry
}

// Store returns the history store, or nil when persistence is disabled.
func (r *Runtime) Store() repository.Store {
	return r.store
}

// ResetToMenu drops every bus subscription, closes all panels and re-attaches
// the runtime's own subscribers. Battles should be ended before calling it.
// It must be called on the scheduler's owner goroutine.
func (r *Runtime) ResetToMenu() {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()
	r.bus.Clear()
	r.panels.CloseAll()
	r.attach()
	r.logger.Info("runtime reset to menu")
}

// Shutdown cancels all scheduled bodies, clears the bus and closes the store,
// waiting at most until ctx is done. It must be called on the scheduler's
// owner goroutine once the tick loop has stopped. Only the first call does
// any work; later calls return the same error.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		if r.health != nil {
			r.health.SetServing(false)
		}
		r.sched.Close()
		r.attachMu.Lock()
		r.bus.Clear()
		r.own = nil
		r.attached = nil
		r.attachMu.Unlock()

		if r.store != nil {
			closed := make(chan error, 1)
			go func() { closed <- r.store.Close() }()
			select {
			case err := <-closed:
				if err != nil {
					r.shutdownErr = fmt.Errorf("close store: %w", err)
				}
			case <-ctx.Done():
				r.shutdownErr = fmt.Errorf("close store: %w", ctx.Err())
			}
		}
		r.logger.Info("runtime shut down")
	})
	return r.shutdownErr
}
