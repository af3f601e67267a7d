// Package metrics exposes Prometheus collectors for the event bus, battles
// and the scheduler.
package metrics

import (
	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
)

// Labels stay low-cardinality: event type names and battle results only.

// Collector owns the turnkit metric families.
type Collector struct {
	EventsRaised   *prometheus.CounterVec
	ListenerFaults *prometheus.CounterVec
	Battles        *prometheus.CounterVec
	Turns          prometheus.Counter
}

// New creates the collectors and registers them on reg. tasks, when non-nil,
// backs the scheduler task gauge.
func New(reg prometheus.Registerer, tasks func() int) (*Collector, error) {
	c := &Collector{
		EventsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_events_raised_total",
			Help: "Total number of events raised on the bus, by event type.",
		}, []string{"event"}),
		ListenerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_listener_faults_total",
			Help: "Total number of event listeners that panicked, by event type.",
		}, []string{"event"}),
		Battles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_battles_total",
			Help: "Total number of finished battles, by result.",
		}, []string{"result"}),
		Turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turnkit_turns_total",
			Help: "Total number of turns entered across all battles.",
		}),
	}

	collectors := []prometheus.Collector{c.EventsRaised, c.ListenerFaults, c.Battles, c.Turns}
	if tasks != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "turnkit_scheduler_tasks",
			Help: "Number of live scheduler tasks.",
		}, func() float64 { return float64(tasks()) }))
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// EventRaised implements eventbus.Observer.
func (c *Collector) EventRaised(event string, _ int) {
	c.EventsRaised.WithLabelValues(event).Inc()
}

// ListenerFailed implements eventbus.Observer.
func (c *Collector) ListenerFailed(event string) {
	c.ListenerFaults.WithLabelValues(event).Inc()
}

// Attach subscribes the battle counters to bus. The returned subscriptions
// can be passed to eventbus.Unsubscribe.
func (c *Collector) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{
		eventbus.Subscribe(bus, func(battle.BattleStateChangedEvent) {
			c.Turns.Inc()
		}),
		eventbus.Subscribe(bus, func(e battle.BattleEndedEvent) {
			c.Battles.WithLabelValues(result(e.IsWin)).Inc()
		}),
	}
}

func result(win bool) string {
	if win {
		return "win"
	}
	return "loss"
}
