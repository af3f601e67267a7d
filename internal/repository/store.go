// Package repository persists battle history.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magefree/turnkit/internal/config"
)

// TurnRecord is one state entered during a battle.
type TurnRecord struct {
	BattleID  string    `json:"battle_id"`
	Turn      int       `json:"turn"`
	State     string    `json:"state"`
	EnteredAt time.Time `json:"entered_at"`
}

// ResultRecord is the outcome of a finished battle.
type ResultRecord struct {
	BattleID string    `json:"battle_id"`
	Win      bool      `json:"win"`
	Turns    int       `json:"turns"`
	EndedAt  time.Time `json:"ended_at"`
}

// Store is the battle history backend.
type Store interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	RecordResult(ctx context.Context, rec ResultRecord) error
	// RecentBattles returns finished battles, newest first.
	RecentBattles(ctx context.Context, limit int) ([]ResultRecord, error)
	// Turns returns the turns of one battle in order.
	Turns(ctx context.Context, battleID string) ([]TurnRecord, error)
	Close() error
}

// Open connects to the backend selected by cfg.Driver and ensures the schema
// exists.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("repository: unsupported driver %q", cfg.Driver)
	}
}
