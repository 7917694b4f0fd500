package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/models"
)

func seedTournament(t *testing.T, s *MemoryStore) *models.Tournament {
	t.Helper()
	tournament := &models.Tournament{Name: "Open", OrganizerID: 1}
	require.NoError(t, s.Tournaments().Create(context.Background(), tournament))
	return tournament
}

func TestMemoryStore_MatchRevisionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)

	m := &models.Match{TournamentID: tournament.ID, Round: 1}
	require.NoError(t, s.Matches().Create(ctx, m))
	assert.Equal(t, models.MatchPending, m.State)

	m.State = models.MatchReady
	m.Revision = 1
	require.NoError(t, s.Matches().Update(ctx, m, 0))

	stale := m.Clone()
	stale.Revision = 2
	err := s.Matches().Update(ctx, stale, 0)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	stored, err := s.Matches().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Revision)
}

func TestMemoryStore_OneMatchPerTableID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)
	tableID := 4

	first := &models.Match{TournamentID: tournament.ID, Round: 1}
	second := &models.Match{TournamentID: tournament.ID, Round: 1, Position: 1}
	require.NoError(t, s.Matches().Create(ctx, first))
	require.NoError(t, s.Matches().Create(ctx, second))

	first.TableID = &tableID
	require.NoError(t, s.Matches().Update(ctx, first, 0))
	require.NoError(t, s.Matches().Update(ctx, first, 0), "rewriting the holder is fine")

	second.TableID = &tableID
	assert.ErrorIs(t, s.Matches().Update(ctx, second, 0), ErrTableReferenced)

	first.TableID = nil
	require.NoError(t, s.Matches().Update(ctx, first, 0))
	require.NoError(t, s.Matches().Update(ctx, second, 0))
}

func TestMemoryStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx Repos) error {
		if err := tx.Tables().Create(ctx, &models.Table{TournamentID: tournament.ID, Label: "T1"}); err != nil {
			return err
		}
		if err := tx.Tournaments().UpdateStatus(ctx, tournament.ID, models.StatusActive); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tables, err := s.Tables().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, tables)

	stored, err := s.Tournaments().GetByID(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSoon, stored.Status)
}

func TestMemoryStore_TableLabelsUniquePerTournament(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := seedTournament(t, s)
	b := seedTournament(t, s)

	require.NoError(t, s.Tables().Create(ctx, &models.Table{TournamentID: a.ID, Label: "T1"}))
	require.NoError(t, s.Tables().Create(ctx, &models.Table{TournamentID: b.ID, Label: "T1"}))

	err := s.Tables().Create(ctx, &models.Table{TournamentID: a.ID, Label: "T1"})
	assert.ErrorIs(t, err, ErrTableLabelConflict)

	err = s.Tables().Create(ctx, &models.Table{TournamentID: 999, Label: "T1"})
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)

	for _, rp := range [][2]int{{2, 1}, {1, 2}, {1, 1}} {
		require.NoError(t, s.Matches().Create(ctx, &models.Match{TournamentID: tournament.ID, Round: rp[0], Position: rp[1]}))
	}
	matches, err := s.Matches().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, [2]int{1, 1}, [2]int{matches[0].Round, matches[0].Position})
	assert.Equal(t, [2]int{1, 2}, [2]int{matches[1].Round, matches[1].Position})
	assert.Equal(t, [2]int{2, 1}, [2]int{matches[2].Round, matches[2].Position})

	completed, err := s.Matches().ListByTournament(ctx, tournament.ID, models.MatchCompleted)
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)
	table := &models.Table{TournamentID: tournament.ID, Label: "T1"}
	require.NoError(t, s.Tables().Create(ctx, table))

	got, err := s.Tables().GetByID(ctx, table.ID)
	require.NoError(t, err)
	got.Label = "changed"

	again, err := s.Tables().GetByID(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1", again.Label)
}

func TestMemoryStore_EventsAndStandings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tournament := seedTournament(t, s)
	m := &models.Match{ID: 5, TournamentID: tournament.ID}

	e := models.NewLifecycleEvent(m, "system", "", s.now(), models.TableReleasedPayload{TableID: 1, Reason: "test"})
	require.NoError(t, s.Events().Append(ctx, &e))

	byMatch, err := s.Events().ListByMatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, byMatch, 1)
	assert.Equal(t, models.EventTableReleased, byMatch[0].Kind)

	s.SetStandings(tournament.ID, []models.Standing{{TournamentID: tournament.ID, CompetitorID: 1, Rank: 1}})
	standings, err := s.Standings().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Len(t, standings, 1)
}
