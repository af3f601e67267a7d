// Package duel is a two-sided demo battle built on the battle state machine.
// The player and the enemy alternate turns, trading strikes until one side
// runs out of hit points or the turn limit is reached.
package duel

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/config"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/panel"
	"github.com/magefree/turnkit/internal/pool"
	"go.uber.org/zap"
)

// Panel keys used by a duel.
const (
	PanelHUD     = "hud"
	PanelVictory = "victory"
	PanelDefeat  = "defeat"
)

// PanelKeys lists every panel a duel opens.
var PanelKeys = []string{PanelHUD, PanelVictory, PanelDefeat}

// Side names the combatant acting on a turn.
type Side int

const (
	SidePlayer Side = iota
	SideEnemy
)

func (s Side) String() string {
	switch s {
	case SidePlayer:
		return "player"
	case SideEnemy:
		return "enemy"
	default:
		return "unknown"
	}
}

func (s Side) opponent() Side {
	if s == SidePlayer {
		return SideEnemy
	}
	return SidePlayer
}

// Strike is one attack. Strikes are pooled and only valid during the turn
// that rolled them.
type Strike struct {
	Attacker Side
	Damage   int
	Critical bool
}

// StrikeEvent is raised after a strike lands.
type StrikeEvent struct {
	BattleID string
	Attacker string
	Damage   int
	Critical bool
	TargetHP int
}

// NewStrikePool creates the pool duels draw strikes from.
func NewStrikePool(cfg config.PoolConfig) (*pool.Pool[*Strike], error) {
	return pool.New(pool.Config[*Strike]{
		Create:          func() *Strike { return &Strike{} },
		OnRelease:       func(s *Strike) { *s = Strike{} },
		DefaultCapacity: cfg.DefaultCapacity,
		MaxSize:         cfg.MaxSize,
		CollectionCheck: true,
	})
}

// Deps are the shared services a duel runs on.
type Deps struct {
	Bus     *eventbus.Bus
	Runner  battle.Runner
	Panels  *panel.Manager
	Strikes *pool.Pool[*Strike]
	Logger  *zap.Logger
}

// Duel is the owner context shared by the duel's turn states.
type Duel struct {
	cfg     config.BattleConfig
	bus     *eventbus.Bus
	panels  *panel.Manager
	strikes *pool.Pool[*Strike]
	logger  *zap.Logger
	rng     *rand.Rand
	machine *battle.Machine[*Duel]

	playerHP int
	enemyHP  int
}

// New creates an idle duel.
func New(cfg config.BattleConfig, deps Deps) (*Duel, error) {
	if deps.Bus == nil || deps.Runner == nil || deps.Panels == nil || deps.Strikes == nil {
		return nil, errors.New("duel: bus, runner, panels and strikes are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	d := &Duel{
		cfg:     cfg,
		bus:     deps.Bus,
		panels:  deps.Panels,
		strikes: deps.Strikes,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	d.machine = battle.NewMachine(d, deps.Bus, deps.Runner, logger)
	return d, nil
}

// Machine exposes the underlying state machine.
func (d *Duel) Machine() *battle.Machine[*Duel] {
	return d.machine
}

// PlayerHP returns the player's remaining hit points.
func (d *Duel) PlayerHP() int {
	return d.playerHP
}

// EnemyHP returns the enemy's remaining hit points.
func (d *Duel) EnemyHP() int {
	return d.enemyHP
}

// Start resets hit points and begins a battle with the player's turn. A duel
// that is still running is abandoned as a loss.
func (d *Duel) Start() {
	d.playerHP = d.cfg.PlayerHP
	d.enemyHP = d.cfg.EnemyHP

	d.panels.CloseAll()
	if err := d.panels.Open(PanelHUD); err != nil {
		d.logger.Warn("failed to open panel", zap.String("panel", PanelHUD), zap.Error(err))
	}
	d.machine.StartBattle(newTurn(d, SidePlayer))
}

// strike rolls an attack from side and applies it to the opponent. It
// reports whether the opponent was defeated.
func (d *Duel) strike(side Side) bool {
	s, err := d.strikes.Get()
	if err != nil {
		d.logger.Error("failed to get strike", zap.Error(err))
		s = &Strike{}
	} else {
		defer func() {
			if err := d.strikes.Release(s); err != nil {
				d.logger.Error("failed to release strike", zap.Error(err))
			}
		}()
	}

	s.Attacker = side
	s.Damage = 1 + d.rng.IntN(6)
	if d.rng.IntN(10) == 0 {
		s.Critical = true
		s.Damage *= 2
	}

	target := &d.enemyHP
	if side == SideEnemy {
		target = &d.playerHP
	}
	*target = max(0, *target-s.Damage)

	eventbus.Raise(d.bus, StrikeEvent{
		BattleID: d.machine.BattleID(),
		Attacker: side.String(),
		Damage:   s.Damage,
		Critical: s.Critical,
		TargetHP: *target,
	})
	return *target == 0
}

func (d *Duel) finish(win bool) {
	key := PanelDefeat
	if win {
		key = PanelVictory
	}
	if err := d.panels.Open(key); err != nil {
		d.logger.Warn("failed to open panel", zap.String("panel", key), zap.Error(err))
	}
	d.machine.EndBattle(win)
}
