package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingStore struct {
	repository.Store
}

func (failingStore) RecordTurn(context.Context, repository.TurnRecord) error {
	return errors.New("disk full")
}

func (failingStore) RecordResult(context.Context, repository.ResultRecord) error {
	return errors.New("disk full")
}

func TestRecorderPersistsBattle(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, time.Second, nil)
	rec.now = func() time.Time { return fixed }

	bus := eventbus.New()
	rec.Attach(bus)

	eventbus.Raise(bus, battle.BattleStateChangedEvent{BattleID: "b1", State: "PlayerTurn", Turn: 1})
	eventbus.Raise(bus, battle.BattleStateChangedEvent{BattleID: "b1", State: "EnemyTurn", Turn: 2})
	eventbus.Raise(bus, battle.BattleEndedEvent{BattleID: "b1", IsWin: true, Turns: 2})

	turns, err := store.Turns(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "PlayerTurn", turns[0].State)
	assert.Equal(t, "EnemyTurn", turns[1].State)

	results, err := store.RecentBattles(ctx, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, repository.ResultRecord{BattleID: "b1", Win: true, Turns: 2, EndedAt: fixed}, results[0])
}

func TestRecorderLogsWriteErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	rec := NewRecorder(failingStore{}, 0, zap.New(core))

	bus := eventbus.New()
	subs := rec.Attach(bus)
	require.Len(t, subs, 2)

	eventbus.Raise(bus, battle.BattleStateChangedEvent{BattleID: "b1", State: "PlayerTurn", Turn: 1})
	eventbus.Raise(bus, battle.BattleEndedEvent{BattleID: "b1"})

	assert.Equal(t, 1, logs.FilterMessage("failed to record turn").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to record battle result").Len())

	for _, sub := range subs {
		eventbus.Unsubscribe(bus, sub)
	}
	assert.Equal(t, 0, bus.Len())
}
