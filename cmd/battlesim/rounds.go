package main

import (
	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/eventbus"
	"go.uber.org/zap"
)

// rounds plays duels back to back. Between rounds the runtime is reset to
// the menu, so rounds is registered as a runtime attacher to survive it.
type rounds struct {
	total  int // 0 plays forever
	played int
	wins   int

	post   func(func())
	reset  func()
	start  func()
	done   func()
	logger *zap.Logger
}

func (r *rounds) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{eventbus.Subscribe(bus, r.onEnded)}
}

func (r *rounds) onEnded(e battle.BattleEndedEvent) {
	r.played++
	if e.IsWin {
		r.wins++
	}
	r.logger.Info("round finished",
		zap.String("battle_id", e.BattleID),
		zap.Bool("win", e.IsWin),
		zap.Int("turns", e.Turns),
		zap.Int("round", r.played),
		zap.Int("wins", r.wins),
	)

	if r.total > 0 && r.played >= r.total {
		r.logger.Info("all rounds finished", zap.Int("rounds", r.played), zap.Int("wins", r.wins))
		r.done()
		return
	}
	// Restarting from inside the ended listener would nest a new battle in
	// the old one's teardown; defer it to the next tick.
	r.post(func() {
		r.reset()
		r.start()
	})
}
