package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

// CompletionListener is told when a match that held a table reaches a terminal state.
// tableID is the table the match just gave up.
type CompletionListener interface {
	OnMatchCompleted(ctx context.Context, tournamentID, matchID, tableID int) (*models.Assignment, error)
}

type MatchService interface {
	GetMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	ListMatches(ctx context.Context, p models.Principal, tournamentID int) ([]*models.Match, error)
	ListMatchEvents(ctx context.Context, p models.Principal, matchID int) ([]*models.LifecycleEvent, error)
	CanTransition(ctx context.Context, p models.Principal, matchID int, cmd MatchCommand) (GuardResult, error)
	// Transition applies cmd. A non-nil expectedRevision must equal the stored revision.
	Transition(ctx context.Context, p models.Principal, matchID int, cmd MatchCommand, expectedRevision *int64) (*models.Match, error)
	StartMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	PauseMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	ResumeMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	CompleteMatch(ctx context.Context, p models.Principal, matchID, winnerID int) (*models.Match, error)
	ForfeitMatch(ctx context.Context, p models.Principal, matchID, forfeitedBy int) (*models.Match, error)
	AbandonMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	CancelMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error)
	UpdateScore(ctx context.Context, p models.Principal, matchID int, score json.RawMessage, expectedRevision *int64) (*models.Match, error)
	SetCompletionListener(l CompletionListener)
}

type matchService struct {
	store  repositories.Store
	tables TableService
	sm     *MatchStateMachine
	notify *notifier
	logger *slog.Logger

	mu       sync.RWMutex
	listener CompletionListener
}

func NewMatchService(store repositories.Store, tables TableService, port NotificationPort, logger *slog.Logger, now func() time.Time) MatchService {
	logger = logger.With("component", "matches")
	return &matchService{
		store:  store,
		tables: tables,
		sm:     NewMatchStateMachine(now),
		notify: newNotifier(port, nil, logger),
		logger: logger,
	}
}

func (s *matchService) SetCompletionListener(l CompletionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *matchService) completionListener() CompletionListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

func (s *matchService) loadMatch(ctx context.Context, repos repositories.Repos, p models.Principal, matchID int, forUpdate bool) (*models.Match, error) {
	var (
		match *models.Match
		err   error
	)
	if forUpdate {
		match, err = repos.Matches().GetByIDForUpdate(ctx, matchID)
	} else {
		match, err = repos.Matches().GetByID(ctx, matchID)
	}
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if _, err := authorizeTournament(ctx, repos, p, match.TournamentID); err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchService) GetMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.loadMatch(ctx, s.store, p, matchID, false)
}

func (s *matchService) ListMatches(ctx context.Context, p models.Principal, tournamentID int) ([]*models.Match, error) {
	if _, err := authorizeTournament(ctx, s.store, p, tournamentID); err != nil {
		return nil, err
	}
	matches, err := s.store.Matches().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

func (s *matchService) ListMatchEvents(ctx context.Context, p models.Principal, matchID int) ([]*models.LifecycleEvent, error) {
	if _, err := s.loadMatch(ctx, s.store, p, matchID, false); err != nil {
		return nil, err
	}
	events, err := s.store.Events().ListByMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of match %d: %w", matchID, err)
	}
	return events, nil
}

func (s *matchService) CanTransition(ctx context.Context, p models.Principal, matchID int, cmd MatchCommand) (GuardResult, error) {
	match, err := s.loadMatch(ctx, s.store, p, matchID, false)
	if err != nil {
		return GuardResult{}, err
	}
	if cmd.To == models.MatchAssigned {
		return GuardResult{Reason: reasonAssignViaTable}, nil
	}
	return s.sm.CanTransition(match, cmd), nil
}

func checkRevision(m *models.Match, expected *int64) error {
	if expected != nil && *expected != m.Revision {
		return fmt.Errorf("%w: match %d is at revision %d, not %d", ErrRevisionConflict, m.ID, m.Revision, *expected)
	}
	return nil
}

func (s *matchService) Transition(ctx context.Context, p models.Principal, matchID int, cmd MatchCommand, expectedRevision *int64) (*models.Match, error) {
	var (
		updated  *models.Match
		from     models.MatchState
		heldBy   *int
		released *models.Table
	)
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		match, err := s.loadMatch(ctx, tx, p, matchID, true)
		if err != nil {
			return err
		}
		if err := checkRevision(match, expectedRevision); err != nil {
			return err
		}
		// assigned достигается только через назначение стола.
		if cmd.To == models.MatchAssigned {
			return &GuardViolation{MatchID: match.ID, From: match.State, To: cmd.To, Reason: reasonAssignViaTable}
		}
		from = match.State
		if match.TableID != nil {
			id := *match.TableID
			heldBy = &id
		}
		expected := match.Revision

		res, err := s.sm.Transition(match, cmd, p.Actor(), p.Device)
		if err != nil {
			return err
		}
		if err := tx.Matches().Update(ctx, match, expected); err != nil {
			return mapRepositoryError(err)
		}
		if err := appendEvents(ctx, tx, res.Event); err != nil {
			return err
		}
		if match.State.IsTerminal() {
			if released, err = s.tables.releaseForMatch(ctx, tx, match, p); err != nil {
				return err
			}
		}
		updated = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "match transitioned",
		slog.Int("tournament_id", updated.TournamentID),
		slog.Int("match_id", updated.ID),
		slog.String("from", string(from)),
		slog.String("to", string(updated.State)),
		slog.Int64("revision", updated.Revision))

	s.afterTransition(ctx, from, updated, heldBy, released)
	return updated, nil
}

// afterTransition notifies about the transition. heldBy is the table m occupied
// before it, released the table freed by it.
func (s *matchService) afterTransition(ctx context.Context, from models.MatchState, m *models.Match, heldBy *int, released *models.Table) {
	switch {
	case m.State == models.MatchActive && from != models.MatchPaused:
		msg := models.MatchStartedNotification{MatchID: m.ID, TableID: m.TableID, StartedAt: *m.StartedAt}
		s.notify.toTournament(ctx, m.TournamentID, msg)
		s.notify.toPlayers(ctx, m, msg)

	case m.State.IsTerminal():
		s.notify.toTournament(ctx, m.TournamentID, models.MatchCompletedNotification{
			MatchID:  m.ID,
			State:    m.State,
			WinnerID: m.WinnerID,
			TableID:  heldBy,
		})
		if loser := m.Loser(); loser != nil && m.EliminatesLoser() {
			msg := models.PlayerEliminatedNotification{MatchID: m.ID, PlayerID: *loser}
			s.notify.toTournament(ctx, m.TournamentID, msg)
			s.notify.toUser(ctx, *loser, m.TournamentID, msg)
		}
		if released == nil {
			return
		}
		if l := s.completionListener(); l != nil {
			if _, err := l.OnMatchCompleted(ctx, m.TournamentID, m.ID, released.ID); err != nil {
				s.logger.WarnContext(ctx, "completion hook failed",
					slog.Int("tournament_id", m.TournamentID),
					slog.Int("match_id", m.ID),
					slog.Int("table_id", released.ID),
					slog.Any("error", err))
			}
		}
	}
}

func (s *matchService) StartMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchActive}, nil)
}

func (s *matchService) PauseMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchPaused}, nil)
}

func (s *matchService) ResumeMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchActive}, nil)
}

func (s *matchService) CompleteMatch(ctx context.Context, p models.Principal, matchID, winnerID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchCompleted, WinnerID: &winnerID}, nil)
}

func (s *matchService) ForfeitMatch(ctx context.Context, p models.Principal, matchID, forfeitedBy int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchForfeited, ForfeitedBy: &forfeitedBy}, nil)
}

func (s *matchService) AbandonMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchAbandoned}, nil)
}

func (s *matchService) CancelMatch(ctx context.Context, p models.Principal, matchID int) (*models.Match, error) {
	return s.Transition(ctx, p, matchID, MatchCommand{To: models.MatchCancelled}, nil)
}

func (s *matchService) UpdateScore(ctx context.Context, p models.Principal, matchID int, score json.RawMessage, expectedRevision *int64) (*models.Match, error) {
	var updated *models.Match
	err := s.store.WithinTx(ctx, func(tx repositories.Repos) error {
		match, err := s.loadMatch(ctx, tx, p, matchID, true)
		if err != nil {
			return err
		}
		if err := checkRevision(match, expectedRevision); err != nil {
			return err
		}
		expected := match.Revision
		event, err := s.sm.ApplyScore(match, score, p.Actor(), p.Device)
		if err != nil {
			return err
		}
		if err := tx.Matches().Update(ctx, match, expected); err != nil {
			return mapRepositoryError(err)
		}
		if err := appendEvents(ctx, tx, event); err != nil {
			return err
		}
		updated = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.toTournament(ctx, updated.TournamentID, models.ScoreAdjustedNotification{
		MatchID:  updated.ID,
		Score:    updated.Score,
		Revision: updated.Revision,
	})
	return updated, nil
}
