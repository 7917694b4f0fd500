package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-dispatch/models"
)

const matchColumns = `id, tournament_id, round, position, bracket, player1_id, player2_id, state,
		table_id, winner_id, started_at, completed_at, score, revision, created_at, updated_at`

type postgresMatchRepository struct {
	exec SQLExecutor
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		match models.Match
		score []byte
	)
	err := row.Scan(
		&match.ID,
		&match.TournamentID,
		&match.Round,
		&match.Position,
		&match.Bracket,
		&match.Player1ID,
		&match.Player2ID,
		&match.State,
		&match.TableID,
		&match.WinnerID,
		&match.StartedAt,
		&match.CompletedAt,
		&score,
		&match.Revision,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(score) > 0 {
		match.Score = score
	}
	return &match, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches
			(tournament_id, round, position, bracket, player1_id, player2_id, state, table_id,
			 winner_id, started_at, completed_at, score, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	if match.State == "" {
		match.State = models.MatchPending
	}
	err := r.exec.QueryRowContext(ctx, query,
		match.TournamentID,
		match.Round,
		match.Position,
		match.Bracket,
		match.Player1ID,
		match.Player2ID,
		match.State,
		match.TableID,
		match.WinnerID,
		match.StartedAt,
		match.CompletedAt,
		jsonbArg(match.Score),
		match.Revision,
	).Scan(&match.ID, &match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		if code, _, ok := pqErrorCode(err); ok && code == pqForeignKeyViolation {
			return fmt.Errorf("%w: tournament %d", ErrTournamentNotFound, match.TournamentID)
		}
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	return r.get(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
}

func (r *postgresMatchRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Match, error) {
	return r.get(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresMatchRepository) get(ctx context.Context, query string, id int) (*models.Match, error) {
	match, err := scanMatch(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int, states ...models.MatchState) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`
	args := []interface{}{tournamentID}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(2, len(states)) + `)`
		for _, s := range states {
			args = append(args, s)
		}
	}
	query += ` ORDER BY round ASC, position ASC, id ASC`

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row for tournament %d: %w", tournamentID, scanErr)
		}
		matches = append(matches, match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows for tournament %d: %w", tournamentID, err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Update(ctx context.Context, match *models.Match, expectedRevision int64) error {
	query := `
		UPDATE matches
		SET player1_id = $1, player2_id = $2, state = $3, table_id = $4, winner_id = $5,
		    started_at = $6, completed_at = $7, score = $8, revision = $9, updated_at = NOW()
		WHERE id = $10 AND revision = $11
		RETURNING updated_at`

	err := r.exec.QueryRowContext(ctx, query,
		match.Player1ID,
		match.Player2ID,
		match.State,
		match.TableID,
		match.WinnerID,
		match.StartedAt,
		match.CompletedAt,
		jsonbArg(match.Score),
		match.Revision,
		match.ID,
		expectedRevision,
	).Scan(&match.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if code, constraint, ok := pqErrorCode(err); ok && code == pqUniqueViolation && constraint == "matches_table_id_key" {
			return fmt.Errorf("%w: table %d", ErrTableReferenced, derefInt(match.TableID))
		}
		return fmt.Errorf("failed to update match %d: %w", match.ID, err)
	}

	var exists bool
	if err := r.exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`, match.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check match %d existence: %w", match.ID, err)
	}
	if !exists {
		return ErrMatchNotFound
	}
	return fmt.Errorf("%w: match %d expected revision %d", ErrRevisionConflict, match.ID, expectedRevision)
}
