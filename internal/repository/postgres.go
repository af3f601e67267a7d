package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS battle_turns (
	battle_id  TEXT        NOT NULL,
	turn       INTEGER     NOT NULL,
	state      TEXT        NOT NULL,
	entered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (battle_id, turn)
);
CREATE TABLE IF NOT EXISTS battle_results (
	battle_id TEXT        PRIMARY KEY,
	win       BOOLEAN     NOT NULL,
	turns     INTEGER     NOT NULL,
	ended_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS battle_results_ended_at ON battle_results (ended_at);
`

// PostgresStore keeps battle history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dbURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RecordTurn implements Store.
func (s *PostgresStore) RecordTurn(ctx context.Context, rec TurnRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO battle_turns (battle_id, turn, state, entered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (battle_id, turn) DO UPDATE SET state = EXCLUDED.state, entered_at = EXCLUDED.entered_at`,
		rec.BattleID, rec.Turn, rec.State, rec.EnteredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record turn: %w", err)
	}
	return nil
}

// RecordResult implements Store.
func (s *PostgresStore) RecordResult(ctx context.Context, rec ResultRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO battle_results (battle_id, win, turns, ended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (battle_id) DO UPDATE SET win = EXCLUDED.win, turns = EXCLUDED.turns, ended_at = EXCLUDED.ended_at`,
		rec.BattleID, rec.Win, rec.Turns, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record result: %w", err)
	}
	return nil
}

// RecentBattles implements Store.
func (s *PostgresStore) RecentBattles(ctx context.Context, limit int) ([]ResultRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT battle_id, win, turns, ended_at FROM battle_results ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(&rec.BattleID, &rec.Win, &rec.Turns, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Turns implements Store.
func (s *PostgresStore) Turns(ctx context.Context, battleID string) ([]TurnRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT battle_id, turn, state, entered_at FROM battle_turns WHERE battle_id = $1 ORDER BY turn`, battleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(&rec.BattleID, &rec.Turn, &rec.State, &rec.EnteredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
