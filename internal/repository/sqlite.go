package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS battle_turns (
	battle_id  TEXT    NOT NULL,
	turn       INTEGER NOT NULL,
	state      TEXT    NOT NULL,
	entered_at INTEGER NOT NULL,
	PRIMARY KEY (battle_id, turn)
);
CREATE TABLE IF NOT EXISTS battle_results (
	battle_id TEXT    PRIMARY KEY,
	win       INTEGER NOT NULL,
	turns     INTEGER NOT NULL,
	ended_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS battle_results_ended_at ON battle_results (ended_at);
`

// SQLiteStore keeps battle history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(ON)"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
}

// RecordTurn implements Store.
func (s *SQLiteStore) RecordTurn(ctx context.Context, rec TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO battle_turns (battle_id, turn, state, entered_at) VALUES (?, ?, ?, ?)`,
		rec.BattleID, rec.Turn, rec.State, rec.EnteredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record turn: %w", err)
	}
	return nil
}

// RecordResult implements Store.
func (s *SQLiteStore) RecordResult(ctx context.Context, rec ResultRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO battle_results (battle_id, win, turns, ended_at) VALUES (?, ?, ?, ?)`,
		rec.BattleID, boolToInt(rec.Win), rec.Turns, rec.EndedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record result: %w", err)
	}
	return nil
}

// RecentBattles implements Store.
func (s *SQLiteStore) RecentBattles(ctx context.Context, limit int) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT battle_id, win, turns, ended_at FROM battle_results ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var (
			rec   ResultRecord
			win   int
			ended int64
		)
		if err := rows.Scan(&rec.BattleID, &win, &rec.Turns, &ended); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		rec.Win = win != 0
		rec.EndedAt = time.Unix(0, ended).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Turns implements Store.
func (s *SQLiteStore) Turns(ctx context.Context, battleID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT battle_id, turn, state, entered_at FROM battle_turns WHERE battle_id = ? ORDER BY turn`, battleID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var (
			rec     TurnRecord
			entered int64
		)
		if err := rows.Scan(&rec.BattleID, &rec.Turn, &rec.State, &entered); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		rec.EnteredAt = time.Unix(0, entered).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
