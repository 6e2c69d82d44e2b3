// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STREAKS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Streak state per user and feature. The ledger payload (warm-up
-- payments, milestones, reset bookkeeping) lives in JSONB; the version
-- column drives optimistic locking.
CREATE TABLE IF NOT EXISTS streak_states (
    user_id VARCHAR(64) NOT NULL,
    feature VARCHAR(20) NOT NULL,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, feature),
    CONSTRAINT valid_feature CHECK (feature IN ('journal', 'habits', 'goals')),
    CONSTRAINT valid_streaks CHECK (current_streak >= 0 AND longest_streak >= 0)
);

CREATE INDEX IF NOT EXISTS idx_streak_states_active
    ON streak_states(user_id) WHERE current_streak > 0;

-- Completion facts: "this day counted" per user, feature and source action.
CREATE TABLE IF NOT EXISTS completion_facts (
    id SERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    feature VARCHAR(20) NOT NULL,
    date DATE NOT NULL,
    source_id VARCHAR(100) NOT NULL,
    origin VARCHAR(20) NOT NULL DEFAULT 'action',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (user_id, feature, source_id),
    CONSTRAINT valid_fact_feature CHECK (feature IN ('journal', 'habits', 'goals')),
    CONSTRAINT valid_origin CHECK (origin IN ('action', 'debt_filler'))
);

CREATE INDEX IF NOT EXISTS idx_completion_facts_dates
    ON completion_facts(user_id, feature, date);
CREATE INDEX IF NOT EXISTS idx_completion_facts_fillers
    ON completion_facts(origin) WHERE origin = 'debt_filler';
`

const migration001Down = `
DROP TABLE IF EXISTS completion_facts;
DROP TABLE IF EXISTS streak_states;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: XP TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Append-only XP transaction log. Reversals are negative-amount rows.
CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    amount INTEGER NOT NULL,
    source VARCHAR(30) NOT NULL,
    source_id VARCHAR(100) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    date DATE NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_user ON xp_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_date ON xp_transactions(user_id, date);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_source ON xp_transactions(user_id, source, source_id);

-- Running totals, updated in the same transaction as the log insert.
CREATE TABLE IF NOT EXISTS xp_totals (
    user_id VARCHAR(64) PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Per-day action aggregate that anchors daily positions and
-- position-milestone idempotency.
CREATE TABLE IF NOT EXISTS daily_stats (
    user_id VARCHAR(64) NOT NULL,
    feature VARCHAR(20) NOT NULL,
    date DATE NOT NULL,
    actions_count INTEGER NOT NULL DEFAULT 0,
    milestone_positions JSONB NOT NULL DEFAULT '{}'::jsonb,
    xp_earned INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (user_id, feature, date),
    CONSTRAINT valid_stats_feature CHECK (feature IN ('journal', 'habits', 'goals'))
);
`

const migration002Down = `
DROP TABLE IF EXISTS daily_stats;
DROP TABLE IF EXISTS xp_totals;
DROP TABLE IF EXISTS xp_transactions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Monthly challenge definitions. One active challenge per user; saving
-- a new one archives the previous.
CREATE TABLE IF NOT EXISTS challenge_definitions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    month DATE NOT NULL,
    star_rating INTEGER NOT NULL,
    requirements JSONB NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_star_rating CHECK (star_rating >= 1 AND star_rating <= 5)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_challenge_active
    ON challenge_definitions(user_id) WHERE is_active;

-- Challenge progress with optimistic locking.
CREATE TABLE IF NOT EXISTS challenge_progress (
    challenge_id VARCHAR(64) PRIMARY KEY REFERENCES challenge_definitions(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Daily snapshots, one row per challenge and day.
CREATE TABLE IF NOT EXISTS challenge_daily_snapshots (
    challenge_id VARCHAR(64) NOT NULL REFERENCES challenge_definitions(id) ON DELETE CASCADE,
    date DATE NOT NULL,
    week_number INTEGER NOT NULL,
    payload JSONB NOT NULL,

    PRIMARY KEY (challenge_id, date)
);

CREATE INDEX IF NOT EXISTS idx_challenge_snapshots_week
    ON challenge_daily_snapshots(challenge_id, week_number);

-- Weekly breakdowns recomputed wholesale from the daily snapshots.
CREATE TABLE IF NOT EXISTS challenge_weekly_breakdowns (
    challenge_id VARCHAR(64) NOT NULL REFERENCES challenge_definitions(id) ON DELETE CASCADE,
    week INTEGER NOT NULL,
    payload JSONB NOT NULL,

    PRIMARY KEY (challenge_id, week)
);
`

const migration003Down = `
DROP TABLE IF EXISTS challenge_weekly_breakdowns;
DROP TABLE IF EXISTS challenge_daily_snapshots;
DROP TABLE IF EXISTS challenge_progress;
DROP TABLE IF EXISTS challenge_definitions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_streaks", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_xp", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_challenges", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}
