package reward

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"goblin-dig/internal/game"
)

// Ledger records every commit in a local SQLite database. The resource key
// is the primary key, so a commit that survives a restart and is re-emitted
// is recorded once.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty ledger path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS claims (
			resource_key TEXT PRIMARY KEY,
			event_id     TEXT NOT NULL,
			winner_id    TEXT NOT NULL,
			source       TEXT NOT NULL DEFAULT '',
			sim_time     REAL NOT NULL,
			tick         INTEGER NOT NULL,
			committed_at TEXT NOT NULL,
			reward       TEXT
		);`,
		"CREATE INDEX IF NOT EXISTS claims_committed_at ON claims(committed_at);",
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Name() string { return "ledger" }

// Deliver inserts c unless its resource key is already recorded. A chest
// without a reward is stored with a NULL reward column.
func (l *Ledger) Deliver(ctx context.Context, c game.ClaimCommit) error {
	var reward sql.NullString
	if !c.Reward.IsZero() {
		b, err := json.Marshal(c.Reward)
		if err != nil {
			return Permanent(fmt.Errorf("encode reward: %w", err))
		}
		reward = sql.NullString{String: string(b), Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO claims
			(resource_key, event_id, winner_id, source, sim_time, tick, committed_at, reward)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ResourceKey, c.EventID, c.WinnerID, c.Source, c.SimTime, int64(c.TickNum),
		c.CommittedAt.UTC().Format(time.RFC3339Nano), reward,
	)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", c.ResourceKey, err)
	}
	return nil
}

// Has reports whether key has been recorded.
func (l *Ledger) Has(ctx context.Context, key string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM claims WHERE resource_key = ?", key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Recent returns up to limit commits, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]game.ClaimCommit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT resource_key, event_id, winner_id, source, sim_time, tick, committed_at, reward
		 FROM claims ORDER BY committed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.ClaimCommit
	for rows.Next() {
		var (
			c         game.ClaimCommit
			tick      int64
			committed string
			reward    sql.NullString
		)
		if err := rows.Scan(&c.ResourceKey, &c.EventID, &c.WinnerID, &c.Source, &c.SimTime, &tick, &committed, &reward); err != nil {
			return nil, err
		}
		c.TickNum = uint64(tick)
		c.CommittedAt, _ = time.Parse(time.RFC3339Nano, committed)
		if reward.Valid && reward.String != "" {
			if err := json.Unmarshal([]byte(reward.String), &c.Reward); err != nil {
				return nil, fmt.Errorf("decode reward for %s: %w", c.ResourceKey, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
