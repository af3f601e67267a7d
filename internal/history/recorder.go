// Package history records battle transitions and outcomes to a repository.
package history

import (
	"context"
	"time"

	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/repository"
	"go.uber.org/zap"
)

// Recorder writes battle events to a Store as they are raised.
type Recorder struct {
	store   repository.Store
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder. Each write gets its own timeout.
func NewRecorder(store repository.Store, timeout time.Duration, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{
		eventbus.Subscribe(bus, r.onStateChanged),
		eventbus.Subscribe(bus, r.onEnded),
	}
}

func (r *Recorder) onStateChanged(e battle.BattleStateChangedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.store.RecordTurn(ctx, repository.TurnRecord{
		BattleID:  e.BattleID,
		Turn:      e.Turn,
		State:     e.State,
		EnteredAt: r.now(),
	})
	if err != nil {
		r.logger.Error("failed to record turn",
			zap.String("battle_id", e.BattleID),
			zap.Int("turn", e.Turn),
			zap.Error(err),
		)
	}
}

func (r *Recorder) onEnded(e battle.BattleEndedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.store.RecordResult(ctx, repository.ResultRecord{
		BattleID: e.BattleID,
		Win:      e.IsWin,
		Turns:    e.Turns,
		EndedAt:  r.now(),
	})
	if err != nil {
		r.logger.Error("failed to record battle result",
			zap.String("battle_id", e.BattleID),
			zap.Error(err),
		)
	}
}
