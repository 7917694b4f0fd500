package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tournaments (
		id               SERIAL PRIMARY KEY,
		name             TEXT NOT NULL,
		organizer_id     INTEGER NOT NULL,
		status           TEXT NOT NULL DEFAULT 'soon',
		pairing_strategy TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id            SERIAL PRIMARY KEY,
		tournament_id INTEGER NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
		round         INTEGER NOT NULL DEFAULT 0,
		position      INTEGER NOT NULL DEFAULT 0,
		bracket       TEXT NOT NULL DEFAULT '',
		player1_id    INTEGER,
		player2_id    INTEGER,
		state         TEXT NOT NULL DEFAULT 'pending',
		table_id      INTEGER,
		winner_id     INTEGER,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		score         JSONB,
		revision      BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT matches_winner_is_participant CHECK (
			winner_id IS NULL OR winner_id = player1_id OR winner_id = player2_id
		)
	)`,
	`CREATE INDEX IF NOT EXISTS matches_tournament_state_idx ON matches (tournament_id, state)`,
	`CREATE TABLE IF NOT EXISTS venue_tables (
		id               SERIAL PRIMARY KEY,
		tournament_id    INTEGER NOT NULL,
		label            TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'available',
		blocked_until    TIMESTAMPTZ,
		current_match_id INTEGER,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT venue_tables_tournament_id_fkey FOREIGN KEY (tournament_id) REFERENCES tournaments(id) ON DELETE CASCADE,
		CONSTRAINT venue_tables_current_match_id_fkey FOREIGN KEY (current_match_id) REFERENCES matches(id) ON DELETE SET NULL,
		CONSTRAINT venue_tables_tournament_label_key UNIQUE (tournament_id, label),
		CONSTRAINT venue_tables_in_use_has_match CHECK ((status = 'in_use') = (current_match_id IS NOT NULL))
	)`,
	// One live table per match and one match per table.
	`CREATE UNIQUE INDEX IF NOT EXISTS venue_tables_current_match_key ON venue_tables (current_match_id) WHERE current_match_id IS NOT NULL`,
	`DO $$ BEGIN
		ALTER TABLE matches ADD CONSTRAINT matches_table_id_fkey
			FOREIGN KEY (table_id) REFERENCES venue_tables(id) ON DELETE SET NULL;
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`UPDATE matches SET table_id = NULL
		WHERE table_id IS NOT NULL AND state IN ('completed', 'cancelled', 'abandoned', 'forfeited')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS matches_table_id_key ON matches (table_id) WHERE table_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS match_events (
		id            UUID PRIMARY KEY,
		tournament_id INTEGER NOT NULL,
		match_id      INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		actor         TEXT NOT NULL,
		device        TEXT NOT NULL DEFAULT '',
		revision      BIGINT NOT NULL,
		occurred_at   TIMESTAMPTZ NOT NULL,
		payload       JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS match_events_match_idx ON match_events (match_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS match_events_tournament_idx ON match_events (tournament_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS competitor_standings (
		tournament_id INTEGER NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
		competitor_id INTEGER NOT NULL,
		rank          INTEGER NOT NULL DEFAULT 0,
		seed          INTEGER NOT NULL DEFAULT 0,
		points        INTEGER NOT NULL DEFAULT 0,
		chips         BIGINT NOT NULL DEFAULT 0,
		head_to_head  JSONB,
		PRIMARY KEY (tournament_id, competitor_id)
	)`,
}

// Migrate applies the schema inside one transaction.
func Migrate(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}
