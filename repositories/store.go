package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Dosada05/tournament-dispatch/models"
)

type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrMatchNotFound      = errors.New("match not found")
	ErrTableNotFound      = errors.New("table not found")
	ErrTableLabelConflict = errors.New("table label already exists in this tournament")
	ErrTableReferenced    = errors.New("table is referenced by a match")
	ErrRevisionConflict   = errors.New("match was modified concurrently")
)

type TournamentRepository interface {
	Create(ctx context.Context, tournament *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	UpdateStatus(ctx context.Context, id int, status models.TournamentStatus) error
	ListByStatus(ctx context.Context, status models.TournamentStatus) ([]*models.Tournament, error)
}

type MatchRepository interface {
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int) (*models.Match, error)
	// ListByTournament returns matches ordered by round, position, id.
	// An empty states filter returns every match.
	ListByTournament(ctx context.Context, tournamentID int, states ...models.MatchState) ([]*models.Match, error)
	// Update persists match if the stored revision still equals expectedRevision.
	Update(ctx context.Context, match *models.Match, expectedRevision int64) error
}

type TableRepository interface {
	Create(ctx context.Context, table *models.Table) error
	GetByID(ctx context.Context, id int) (*models.Table, error)
	GetByIDForUpdate(ctx context.Context, id int) (*models.Table, error)
	// ListByTournament returns tables ordered by label, id.
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Table, error)
	Update(ctx context.Context, table *models.Table) error
	Delete(ctx context.Context, id int) error
}

// EventRepository is append-only.
type EventRepository interface {
	Append(ctx context.Context, event *models.LifecycleEvent) error
	ListByMatch(ctx context.Context, matchID int) ([]*models.LifecycleEvent, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.LifecycleEvent, error)
}

type StandingsRepository interface {
	ListByTournament(ctx context.Context, tournamentID int) ([]models.Standing, error)
}

// Repos groups the repositories bound to one executor (pool or transaction).
type Repos interface {
	Tournaments() TournamentRepository
	Matches() MatchRepository
	Tables() TableRepository
	Events() EventRepository
	Standings() StandingsRepository
}

// Store is the persistence boundary used by the services.
type Store interface {
	Repos
	// WithinTx runs fn in one transaction. Any error returned by fn rolls it back.
	WithinTx(ctx context.Context, fn func(tx Repos) error) error
	Close() error
}
