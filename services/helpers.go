package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

// authorizeTournament loads the tournament and checks that p owns it.
// A foreign tournament is reported as not found.
func authorizeTournament(ctx context.Context, repos repositories.Repos, p models.Principal, tournamentID int) (*models.Tournament, error) {
	tournament, err := repos.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if !p.CanManage(tournament) {
		return nil, fmt.Errorf("%w: tournament %d", ErrNotFound, tournamentID)
	}
	return tournament, nil
}

func isValidStatusTransition(current, next models.TournamentStatus) bool {
	if current == next {
		return true
	}
	allowedTransitions := map[models.TournamentStatus][]models.TournamentStatus{
		models.StatusSoon:         {models.StatusRegistration, models.StatusActive, models.StatusCanceled},
		models.StatusRegistration: {models.StatusActive, models.StatusCanceled},
		models.StatusActive:       {models.StatusCompleted, models.StatusCanceled},
		models.StatusCompleted:    {},
		models.StatusCanceled:     {},
	}
	for _, allowedNextStatus := range allowedTransitions[current] {
		if next == allowedNextStatus {
			return true
		}
	}
	return false
}

func newAssignment(m *models.Match, t *models.Table, at time.Time) *models.Assignment {
	return &models.Assignment{
		MatchID:      m.ID,
		TableID:      t.ID,
		TableLabel:   t.Label,
		TournamentID: m.TournamentID,
		Player1ID:    m.Player1ID,
		Player2ID:    m.Player2ID,
		AssignedAt:   at,
	}
}

func appendEvents(ctx context.Context, repos repositories.Repos, events ...models.LifecycleEvent) error {
	for i := range events {
		if err := repos.Events().Append(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
