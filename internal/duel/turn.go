package duel

import (
	"context"

	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/scheduler"
	"go.uber.org/zap"
)

// turn is one side's turn: wait for the turn delay, strike, then hand over.
type turn struct {
	battle.Base[*Duel]
	side Side
}

func newTurn(d *Duel, side Side) *turn {
	return &turn{Base: battle.NewBase(d, d.machine), side: side}
}

func (t *turn) Name() string {
	if t.side == SidePlayer {
		return "PlayerTurn"
	}
	return "EnemyTurn"
}

func (t *turn) Enter() {
	d := t.Owner()
	d.logger.Debug("turn begins",
		zap.String("side", t.side.String()),
		zap.Int("player_hp", d.playerHP),
		zap.Int("enemy_hp", d.enemyHP),
	)
}

func (t *turn) Execute(ctx context.Context) scheduler.Body {
	return func(yield func(scheduler.Wait) bool) {
		d := t.Owner()
		if !yield(scheduler.Delay(d.cfg.TurnDelay)) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if d.strike(t.side) {
			d.finish(t.side == SidePlayer)
			return
		}
		if t.Machine().Turn() >= d.cfg.MaxTurns {
			d.logger.Info("turn limit reached", zap.Int("max_turns", d.cfg.MaxTurns))
			d.finish(false)
			return
		}
		t.Machine().NextTurn(newTurn(d, t.side.opponent()))
	}
}
