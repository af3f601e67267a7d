package main

import (
	"context"
	"testing"
	"time"

	"github.com/magefree/turnkit/internal/app"
	"github.com/magefree/turnkit/internal/config"
	"github.com/magefree/turnkit/internal/duel"
	"github.com/magefree/turnkit/internal/panel"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRoundsPlayBackToBack(t *testing.T) {
	cfg := config.Default()
	cfg.Battle.TurnDelay = 0
	cfg.Battle.Seed = 11
	cfg.Battle.Rounds = 3
	logger := zaptest.NewLogger(t)

	finished := false
	r := &rounds{total: cfg.Battle.Rounds, done: func() { finished = true }, logger: logger}
	rt, err := app.New(context.Background(), cfg, logger,
		app.WithPanels(panel.LogPanels(logger, duel.PanelKeys...)),
		app.WithAttacher(r),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	strikes, err := duel.NewStrikePool(cfg.Pool)
	require.NoError(t, err)
	d, err := duel.New(cfg.Battle, duel.Deps{Bus: rt.Bus(), Runner: rt.Scheduler(), Panels: rt.Panels(), Strikes: strikes})
	require.NoError(t, err)
	r.post = rt.Scheduler().Post
	r.reset = rt.ResetToMenu
	r.start = d.Start

	rt.Scheduler().Post(d.Start)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10000 && !finished; i++ {
		now = now.Add(time.Millisecond)
		rt.Scheduler().Tick(now)
	}

	require.True(t, finished)
	assert.Equal(t, 3, r.played)
	assert.False(t, d.Machine().IsBattleActive())

	battles := rt.Metrics().Battles
	total := testutil.ToFloat64(battles.WithLabelValues("win")) + testutil.ToFloat64(battles.WithLabelValues("loss"))
	assert.Equal(t, 3.0, total)
}
