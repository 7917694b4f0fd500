package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/tournament-dispatch/brackets"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

// StatusListener reacts to tournament status changes. The scheduler implements it.
type StatusListener interface {
	OnTournamentStatusChanged(ctx context.Context, tournamentID int, status models.TournamentStatus) error
}

type TournamentService interface {
	CreateTournament(ctx context.Context, p models.Principal, t *models.Tournament) (*models.Tournament, error)
	GetTournament(ctx context.Context, p models.Principal, id int) (*models.Tournament, error)
	UpdateStatus(ctx context.Context, p models.Principal, id int, status string) (*models.Tournament, error)
	ListEvents(ctx context.Context, p models.Principal, id int) ([]*models.LifecycleEvent, error)
	// Finalists returns the top n of the roster standings, ties at the cutoff
	// resolved by the named tiebreak rule.
	Finalists(ctx context.Context, p models.Principal, id, n int, tiebreak string) ([]models.Standing, error)
}

type tournamentService struct {
	store    repositories.Store
	listener StatusListener
	audit    AuditService
	logger   *slog.Logger
}

// NewTournamentService wires the status hooks. listener and audit may be nil.
func NewTournamentService(store repositories.Store, listener StatusListener, audit AuditService, logger *slog.Logger) TournamentService {
	return &tournamentService{
		store:    store,
		listener: listener,
		audit:    audit,
		logger:   logger.With("component", "tournaments"),
	}
}

func (s *tournamentService) CreateTournament(ctx context.Context, p models.Principal, t *models.Tournament) (*models.Tournament, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, fmt.Errorf("%w: tournament name is required", ErrValidationFailed)
	}
	if p.Role != models.RoleAdmin && p.Role != models.RoleSystem {
		t.OrganizerID = p.UserID
	}
	if t.OrganizerID == 0 {
		return nil, fmt.Errorf("%w: organizer is required", ErrValidationFailed)
	}
	if t.Status == "" {
		t.Status = models.StatusSoon
	}
	if _, ok := models.ParseTournamentStatus(string(t.Status)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrTournamentInvalidStatus, t.Status)
	}
	if err := s.store.Tournaments().Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	return t, nil
}

func (s *tournamentService) GetTournament(ctx context.Context, p models.Principal, id int) (*models.Tournament, error) {
	return authorizeTournament(ctx, s.store, p, id)
}

func (s *tournamentService) UpdateStatus(ctx context.Context, p models.Principal, id int, status string) (*models.Tournament, error) {
	next, ok := models.ParseTournamentStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTournamentInvalidStatus, status)
	}

	var tournament *models.Tournament
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		t, err := authorizeTournament(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() && t.Status != next {
			return fmt.Errorf("%w: tournament %d is %s", ErrTournamentFinished, id, t.Status)
		}
		if !isValidStatusTransition(t.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrTournamentInvalidStatusTransition, t.Status, next)
		}
		if err := tx.Tournaments().UpdateStatus(ctx, id, next); err != nil {
			return mapRepositoryError(err)
		}
		t.Status = next
		tournament = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tournament status changed",
		slog.Int("tournament_id", id),
		slog.String("status", string(next)))

	if s.listener != nil {
		if err := s.listener.OnTournamentStatusChanged(ctx, id, next); err != nil {
			s.logger.WarnContext(ctx, "status hook failed", slog.Int("tournament_id", id), slog.Any("error", err))
		}
	}
	if next.IsTerminal() && s.audit != nil {
		if _, err := s.audit.ArchiveTournament(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "failed to archive audit log", slog.Int("tournament_id", id), slog.Any("error", err))
		}
	}
	return tournament, nil
}

func (s *tournamentService) ListEvents(ctx context.Context, p models.Principal, id int) ([]*models.LifecycleEvent, error) {
	if _, err := authorizeTournament(ctx, s.store, p, id); err != nil {
		return nil, err
	}
	events, err := s.store.Events().ListByTournament(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of tournament %d: %w", id, err)
	}
	return events, nil
}

func (s *tournamentService) Finalists(ctx context.Context, p models.Principal, id, n int, tiebreak string) ([]models.Standing, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: number of finalists must be positive", ErrValidationFailed)
	}
	tb, err := brackets.TiebreakerByName(tiebreak)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if _, err := authorizeTournament(ctx, s.store, p, id); err != nil {
		return nil, err
	}
	standings, err := s.store.Standings().ListByTournament(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load standings of tournament %d: %w", id, err)
	}
	return brackets.SelectFinalists(standings, n, tb), nil
}
