package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type postgresRepos struct {
	exec SQLExecutor
}

func (r postgresRepos) Tournaments() TournamentRepository {
	return &postgresTournamentRepository{exec: r.exec}
}

func (r postgresRepos) Matches() MatchRepository {
	return &postgresMatchRepository{exec: r.exec}
}

func (r postgresRepos) Tables() TableRepository {
	return &postgresTableRepository{exec: r.exec}
}

func (r postgresRepos) Events() EventRepository {
	return &postgresEventRepository{exec: r.exec}
}

func (r postgresRepos) Standings() StandingsRepository {
	return &postgresStandingRepository{exec: r.exec}
}

type PostgresStore struct {
	postgresRepos
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		postgresRepos: postgresRepos{exec: db},
		db:            db,
		logger:        logger.With("component", "store"),
	}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Repos) error) (txErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr), slog.Any("cause", txErr))
				txErr = fmt.Errorf("transaction processing error: %w (rollback also failed: %v)", txErr, rbErr)
			}
		} else {
			if cErr := tx.Commit(); cErr != nil {
				txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
			}
		}
	}()

	txErr = fn(postgresRepos{exec: tx})
	return txErr
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
