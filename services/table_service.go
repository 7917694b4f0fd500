package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/tournament-dispatch/metrics"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

const (
	releaseReasonManual   = "released by operator"
	releaseReasonBlocked  = "table blocked"
	releaseReasonFinished = "match finished"
)

// TableService is the only writer of table state. Rows are locked in the order
// match, then table.
type TableService interface {
	CreateTable(ctx context.Context, p models.Principal, tournamentID int, label string) (*models.Table, error)
	BulkCreateTables(ctx context.Context, p models.Principal, tournamentID int, labels []string) ([]*models.Table, error)
	ListTables(ctx context.Context, p models.Principal, tournamentID int) ([]*models.Table, error)
	AssignTable(ctx context.Context, p models.Principal, matchID, tableID int) (*models.Assignment, error)
	ReleaseTable(ctx context.Context, p models.Principal, tableID int) (*models.Table, error)
	BlockTable(ctx context.Context, p models.Principal, tableID int, until *time.Time, reason string) (*models.Table, error)
	HoldTable(ctx context.Context, p models.Principal, tableID int, until time.Time) (*models.Table, error)
	UnblockTable(ctx context.Context, p models.Principal, tableID int) (*models.Table, error)
	CheckAvailability(ctx context.Context, p models.Principal, tableID int) (*models.TableAvailability, error)
	DeleteTable(ctx context.Context, p models.Principal, tableID int) error
	ExpireBlocks(ctx context.Context, tournamentID int) (int, error)

	// releaseForMatch frees the table of a match that just reached a terminal state
	// and clears the match's table id.
	releaseForMatch(ctx context.Context, tx repositories.Repos, m *models.Match, p models.Principal) (*models.Table, error)
}

type tableService struct {
	store      repositories.Store
	sm         *MatchStateMachine
	turnaround time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type TableServiceOptions struct {
	// Turnaround holds a freed table for reset before it can be reassigned.
	Turnaround time.Duration
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func NewTableService(store repositories.Store, logger *slog.Logger, opts TableServiceOptions) TableService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &tableService{
		store:      store,
		sm:         NewMatchStateMachine(now),
		turnaround: opts.Turnaround,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "tables"),
		now:        now,
	}
}

func normalizeLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("%w: table label is required", ErrValidationFailed)
	}
	return label, nil
}

func (s *tableService) CreateTable(ctx context.Context, p models.Principal, tournamentID int, label string) (*models.Table, error) {
	tables, err := s.BulkCreateTables(ctx, p, tournamentID, []string{label})
	if err != nil {
		return nil, err
	}
	return tables[0], nil
}

func (s *tableService) BulkCreateTables(ctx context.Context, p models.Principal, tournamentID int, labels []string) ([]*models.Table, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: at least one table label is required", ErrValidationFailed)
	}
	clean := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		label, err := normalizeLabel(l)
		if err != nil {
			return nil, err
		}
		if seen[label] {
			return nil, fmt.Errorf("%w: %q is listed twice", ErrTableLabelConflict, label)
		}
		seen[label] = true
		clean = append(clean, label)
	}

	created := make([]*models.Table, 0, len(clean))
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		if _, err := authorizeTournament(ctx, tx, p, tournamentID); err != nil {
			return err
		}
		for _, label := range clean {
			table := &models.Table{TournamentID: tournamentID, Label: label, Status: models.TableAvailable}
			if err := tx.Tables().Create(ctx, table); err != nil {
				return mapRepositoryError(err)
			}
			created = append(created, table)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tables created", slog.Int("tournament_id", tournamentID), slog.Int("count", len(created)))
	return created, nil
}

func (s *tableService) ListTables(ctx context.Context, p models.Principal, tournamentID int) ([]*models.Table, error) {
	if _, err := authorizeTournament(ctx, s.store, p, tournamentID); err != nil {
		return nil, err
	}
	tables, err := s.store.Tables().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// loadTable returns the table if p owns its tournament.
func (s *tableService) loadTable(ctx context.Context, repos repositories.Repos, p models.Principal, tableID int, forUpdate bool) (*models.Table, error) {
	var (
		table *models.Table
		err   error
	)
	if forUpdate {
		table, err = repos.Tables().GetByIDForUpdate(ctx, tableID)
	} else {
		table, err = repos.Tables().GetByID(ctx, tableID)
	}
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if _, err := authorizeTournament(ctx, repos, p, table.TournamentID); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *tableService) conflict(kind ConflictKind, tableID, matchID int, format string, args ...interface{}) error {
	s.metrics.RecordConflict(string(kind))
	return &ConflictError{Kind: kind, TableID: tableID, MatchID: matchID, Reason: fmt.Sprintf(format, args...)}
}

func (s *tableService) AssignTable(ctx context.Context, p models.Principal, matchID, tableID int) (*models.Assignment, error) {
	var assignment *models.Assignment
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		match, err := tx.Matches().GetByIDForUpdate(ctx, matchID)
		if err != nil {
			return mapRepositoryError(err)
		}
		table, err := s.loadTable(ctx, tx, p, tableID, true)
		if err != nil {
			return err
		}
		if match.TournamentID != table.TournamentID {
			return fmt.Errorf("%w: match %d in tournament %d", ErrNotFound, matchID, table.TournamentID)
		}

		now := s.now()
		if table.CurrentMatchID != nil && *table.CurrentMatchID == match.ID && match.TableID != nil && *match.TableID == table.ID {
			assignment = newAssignment(match, table, now)
			return nil
		}
		if table.CurrentMatchID != nil {
			return s.conflict(ConflictDoubleBooking, table.ID, match.ID, "table already hosts match %d", *table.CurrentMatchID)
		}
		if table.Status == models.TableMaintenance {
			return s.conflict(ConflictMaintenance, table.ID, match.ID, "table is under maintenance")
		}
		if table.IsBlockedAt(now) {
			return s.conflict(ConflictBlocked, table.ID, match.ID, "table is blocked until %s", table.BlockedUntil.Format(time.RFC3339))
		}
		if match.State.IsTerminal() {
			return &GuardViolation{MatchID: match.ID, From: match.State, To: models.MatchAssigned, Reason: reasonTerminal}
		}
		if match.TableID != nil {
			return s.conflict(ConflictDoubleBooking, table.ID, match.ID, "match is already on table %d", *match.TableID)
		}

		expected := match.Revision
		var event models.LifecycleEvent
		switch match.State {
		case models.MatchPending, models.MatchReady:
			id := table.ID
			match.TableID = &id
			res, err := s.sm.Transition(match, MatchCommand{To: models.MatchAssigned}, p.Actor(), p.Device)
			if err != nil {
				return err
			}
			event = res.Event
		case models.MatchAssigned, models.MatchPaused:
			if !match.HasPlayers() {
				return &GuardViolation{MatchID: match.ID, From: match.State, To: match.State, Reason: reasonNoPlayers}
			}
			if event, err = s.sm.BindTable(match, table, p.Actor(), p.Device); err != nil {
				return err
			}
		default:
			return &GuardViolation{MatchID: match.ID, From: match.State, To: models.MatchAssigned, Reason: reasonNoEdge}
		}

		if err := tx.Matches().Update(ctx, match, expected); err != nil {
			return mapRepositoryError(err)
		}
		table.Status = models.TableInUse
		table.CurrentMatchID = &match.ID
		if err := tx.Tables().Update(ctx, table); err != nil {
			return mapRepositoryError(err)
		}
		if err := appendEvents(ctx, tx, event); err != nil {
			return err
		}
		assignment = newAssignment(match, table, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "table assigned",
		slog.Int("tournament_id", assignment.TournamentID),
		slog.Int("match_id", matchID),
		slog.Int("table_id", tableID))
	return assignment, nil
}

// lockOccupied locks the current occupant (if any) and then the table, keeping the
// match-before-table lock order.
func (s *tableService) lockOccupied(ctx context.Context, tx repositories.Repos, p models.Principal, tableID int) (*models.Table, *models.Match, error) {
	peek, err := s.loadTable(ctx, tx, p, tableID, false)
	if err != nil {
		return nil, nil, err
	}
	var occupant *models.Match
	if peek.CurrentMatchID != nil {
		occupant, err = tx.Matches().GetByIDForUpdate(ctx, *peek.CurrentMatchID)
		if err != nil && !errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, nil, err
		}
	}
	table, err := tx.Tables().GetByIDForUpdate(ctx, tableID)
	if err != nil {
		return nil, nil, mapRepositoryError(err)
	}
	if !sameIntPtr(table.CurrentMatchID, peek.CurrentMatchID) {
		return nil, nil, &TransientError{Op: "lock table", Err: fmt.Errorf("table %d changed occupant concurrently", tableID)}
	}
	return table, occupant, nil
}

// vacate clears the table in memory and detaches its occupant in tx, finished
// or not. The caller persists the table.
func (s *tableService) vacate(ctx context.Context, tx repositories.Repos, table *models.Table, occupant *models.Match, p models.Principal, reason string) error {
	if occupant != nil && occupant.TableID != nil && *occupant.TableID == table.ID {
		expected := occupant.Revision
		events, err := s.sm.DetachTable(occupant, reason, p.Actor(), p.Device)
		if err != nil {
			return err
		}
		if err := tx.Matches().Update(ctx, occupant, expected); err != nil {
			return mapRepositoryError(err)
		}
		if err := appendEvents(ctx, tx, events...); err != nil {
			return err
		}
	}
	table.CurrentMatchID = nil
	if table.Status == models.TableInUse {
		table.Status = models.TableAvailable
	}
	return nil
}

func (s *tableService) applyTurnaround(table *models.Table) {
	if s.turnaround <= 0 {
		return
	}
	until := s.now().Add(s.turnaround)
	table.BlockedUntil = &until
}

func (s *tableService) ReleaseTable(ctx context.Context, p models.Principal, tableID int) (*models.Table, error) {
	var released *models.Table
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		table, occupant, err := s.lockOccupied(ctx, tx, p, tableID)
		if err != nil {
			return err
		}
		if table.CurrentMatchID == nil {
			released = table
			return nil
		}
		if err := s.vacate(ctx, tx, table, occupant, p, releaseReasonManual); err != nil {
			return err
		}
		s.applyTurnaround(table)
		if err := tx.Tables().Update(ctx, table); err != nil {
			return mapRepositoryError(err)
		}
		released = table
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "table released", slog.Int("tournament_id", released.TournamentID), slog.Int("table_id", tableID))
	return released, nil
}

func (s *tableService) releaseForMatch(ctx context.Context, tx repositories.Repos, m *models.Match, p models.Principal) (*models.Table, error) {
	if m.TableID == nil {
		return nil, nil
	}
	table, err := tx.Tables().GetByIDForUpdate(ctx, *m.TableID)
	if err != nil && !errors.Is(err, repositories.ErrTableNotFound) {
		return nil, err
	}
	if table == nil || table.CurrentMatchID == nil || *table.CurrentMatchID != m.ID {
		// Стол уже не числится за матчем: снимаем только ссылку.
		expected := m.Revision
		events, err := s.sm.DetachTable(m, releaseReasonFinished, p.Actor(), p.Device)
		if err != nil {
			return nil, err
		}
		if err := tx.Matches().Update(ctx, m, expected); err != nil {
			return nil, mapRepositoryError(err)
		}
		return nil, appendEvents(ctx, tx, events...)
	}
	if err := s.vacate(ctx, tx, table, m, p, releaseReasonFinished); err != nil {
		return nil, err
	}
	s.applyTurnaround(table)
	if err := tx.Tables().Update(ctx, table); err != nil {
		return nil, mapRepositoryError(err)
	}
	return table, nil
}

func (s *tableService) BlockTable(ctx context.Context, p models.Principal, tableID int, until *time.Time, reason string) (*models.Table, error) {
	if until != nil && !until.After(s.now()) {
		return nil, fmt.Errorf("%w: block end must be in the future", ErrValidationFailed)
	}
	if strings.TrimSpace(reason) == "" {
		reason = releaseReasonBlocked
	}
	var blocked *models.Table
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		table, occupant, err := s.lockOccupied(ctx, tx, p, tableID)
		if err != nil {
			return err
		}
		if err := s.vacate(ctx, tx, table, occupant, p, reason); err != nil {
			return err
		}
		table.Status = models.TableMaintenance
		table.BlockedUntil = until
		if err := tx.Tables().Update(ctx, table); err != nil {
			return mapRepositoryError(err)
		}
		blocked = table
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "table blocked",
		slog.Int("tournament_id", blocked.TournamentID),
		slog.Int("table_id", tableID),
		slog.String("reason", reason))
	return blocked, nil
}

func (s *tableService) HoldTable(ctx context.Context, p models.Principal, tableID int, until time.Time) (*models.Table, error) {
	if !until.After(s.now()) {
		return nil, fmt.Errorf("%w: hold end must be in the future", ErrValidationFailed)
	}
	var held *models.Table
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		table, err := s.loadTable(ctx, tx, p, tableID, true)
		if err != nil {
			return err
		}
		if table.CurrentMatchID != nil {
			return fmt.Errorf("%w: table %d hosts match %d", ErrTableOccupied, table.ID, *table.CurrentMatchID)
		}
		u := until
		table.BlockedUntil = &u
		if err := tx.Tables().Update(ctx, table); err != nil {
			return mapRepositoryError(err)
		}
		held = table
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

func (s *tableService) UnblockTable(ctx context.Context, p models.Principal, tableID int) (*models.Table, error) {
	var table *models.Table
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		t, err := s.loadTable(ctx, tx, p, tableID, true)
		if err != nil {
			return err
		}
		if t.Status == models.TableMaintenance {
			t.Status = models.TableAvailable
		}
		t.BlockedUntil = nil
		if err := tx.Tables().Update(ctx, t); err != nil {
			return mapRepositoryError(err)
		}
		table = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "table unblocked", slog.Int("tournament_id", table.TournamentID), slog.Int("table_id", tableID))
	return table, nil
}

func (s *tableService) CheckAvailability(ctx context.Context, p models.Principal, tableID int) (*models.TableAvailability, error) {
	table, err := s.loadTable(ctx, s.store, p, tableID, false)
	if err != nil {
		return nil, err
	}
	now := s.now()
	availability := &models.TableAvailability{
		TableID:      table.ID,
		Status:       table.Status,
		BlockedUntil: table.BlockedUntil,
	}
	switch {
	case table.CurrentMatchID != nil:
		availability.Conflict = string(ConflictDoubleBooking)
	case table.Status == models.TableMaintenance:
		availability.Conflict = string(ConflictMaintenance)
	case table.IsBlockedAt(now):
		availability.Conflict = string(ConflictBlocked)
	default:
		availability.Available = true
	}
	return availability, nil
}

func (s *tableService) DeleteTable(ctx context.Context, p models.Principal, tableID int) error {
	return s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		table, err := s.loadTable(ctx, tx, p, tableID, true)
		if err != nil {
			return err
		}
		if table.CurrentMatchID != nil {
			return fmt.Errorf("%w: table %d hosts match %d", ErrTableOccupied, table.ID, *table.CurrentMatchID)
		}
		return mapRepositoryError(tx.Tables().Delete(ctx, tableID))
	})
}

// ExpireBlocks returns tables whose block window has passed to service.
func (s *tableService) ExpireBlocks(ctx context.Context, tournamentID int) (int, error) {
	now := s.now()
	expired := 0
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		tables, err := tx.Tables().ListByTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if t.BlockedUntil == nil || t.BlockedUntil.After(now) {
				continue
			}
			t.BlockedUntil = nil
			if t.Status == models.TableMaintenance {
				t.Status = models.TableAvailable
			}
			if err := tx.Tables().Update(ctx, t); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire table blocks for tournament %d: %w", tournamentID, err)
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "table blocks expired", slog.Int("tournament_id", tournamentID), slog.Int("count", expired))
	}
	return expired, nil
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
