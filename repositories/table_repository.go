package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-dispatch/models"
)

const tableColumns = `id, tournament_id, label, status, blocked_until, current_match_id, created_at, updated_at`

type postgresTableRepository struct {
	exec SQLExecutor
}

func scanTable(row rowScanner) (*models.Table, error) {
	var table models.Table
	err := row.Scan(
		&table.ID,
		&table.TournamentID,
		&table.Label,
		&table.Status,
		&table.BlockedUntil,
		&table.CurrentMatchID,
		&table.CreatedAt,
		&table.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (r *postgresTableRepository) Create(ctx context.Context, table *models.Table) error {
	query := `
		INSERT INTO venue_tables (tournament_id, label, status, blocked_until, current_match_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	if table.Status == "" {
		table.Status = models.TableAvailable
	}
	err := r.exec.QueryRowContext(ctx, query,
		table.TournamentID,
		table.Label,
		table.Status,
		table.BlockedUntil,
		table.CurrentMatchID,
	).Scan(&table.ID, &table.CreatedAt, &table.UpdatedAt)
	return r.handleTableError(err, table)
}

func (r *postgresTableRepository) handleTableError(err error, table *models.Table) error {
	if err == nil {
		return nil
	}
	if code, constraint, ok := pqErrorCode(err); ok {
		switch {
		case code == pqUniqueViolation && constraint == "venue_tables_tournament_label_key":
			return fmt.Errorf("%w: %q", ErrTableLabelConflict, table.Label)
		case code == pqForeignKeyViolation && constraint == "venue_tables_tournament_id_fkey":
			return fmt.Errorf("%w: tournament %d", ErrTournamentNotFound, table.TournamentID)
		case code == pqForeignKeyViolation && constraint == "venue_tables_current_match_id_fkey":
			return fmt.Errorf("%w: match %d", ErrMatchNotFound, derefInt(table.CurrentMatchID))
		}
	}
	return fmt.Errorf("database error on table %q: %w", table.Label, err)
}

func (r *postgresTableRepository) GetByID(ctx context.Context, id int) (*models.Table, error) {
	return r.get(ctx, `SELECT `+tableColumns+` FROM venue_tables WHERE id = $1`, id)
}

func (r *postgresTableRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Table, error) {
	return r.get(ctx, `SELECT `+tableColumns+` FROM venue_tables WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresTableRepository) get(ctx context.Context, query string, id int) (*models.Table, error) {
	table, err := scanTable(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to scan table by id %d: %w", id, err)
	}
	return table, nil
}

func (r *postgresTableRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM venue_tables WHERE tournament_id = $1 ORDER BY label ASC, id ASC`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	tables := make([]*models.Table, 0)
	for rows.Next() {
		table, scanErr := scanTable(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan table row for tournament %d: %w", tournamentID, scanErr)
		}
		tables = append(tables, table)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows for tournament %d: %w", tournamentID, err)
	}
	return tables, nil
}

func (r *postgresTableRepository) Update(ctx context.Context, table *models.Table) error {
	query := `
		UPDATE venue_tables
		SET label = $1, status = $2, blocked_until = $3, current_match_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := r.exec.QueryRowContext(ctx, query,
		table.Label,
		table.Status,
		table.BlockedUntil,
		table.CurrentMatchID,
		table.ID,
	).Scan(&table.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTableNotFound
	}
	return r.handleTableError(err, table)
}

func (r *postgresTableRepository) Delete(ctx context.Context, id int) error {
	result, err := r.exec.ExecContext(ctx, `DELETE FROM venue_tables WHERE id = $1`, id)
	if err != nil {
		if code, _, ok := pqErrorCode(err); ok && code == pqForeignKeyViolation {
			return ErrTableReferenced
		}
		return fmt.Errorf("failed to delete table %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTableNotFound)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
