package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/models"
)

func newQueue(f *fixture) QueueService {
	return NewQueueService(f.store, logging.Discard(), QueueServiceOptions{Now: f.clock.Now})
}

func matchIDs(matches []*models.Match) []int {
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestQueueService_Status(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1", "T2")
	late := f.addMatch(2, 1, 5, 6)
	second := f.addMatch(1, 2, 3, 4)
	first := f.addMatch(1, 1, 1, 2)
	f.addMatch(2, 2, 7, 0) // ждёт соперника
	q := newQueue(f)

	_, err := f.tables.AssignTable(f.ctx, organizer, second.ID, tables[1].ID)
	require.NoError(t, err)

	status, err := q.GetQueueStatus(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{first.ID, late.ID}, matchIDs(status.ReadyMatches))
	require.Len(t, status.AvailableTables, 1)
	assert.Equal(t, tables[0].ID, status.AvailableTables[0].ID)
	assert.Equal(t, 1, status.ActiveMatches)
	assert.Equal(t, 1, status.PendingMatches)
}

func TestQueueService_AutoAssignPairsMinOfQueueAndTables(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1", "T2")
	m1 := f.addMatch(1, 1, 1, 2)
	m2 := f.addMatch(1, 2, 3, 4)
	f.addMatch(1, 3, 5, 6)
	q := newQueue(f)

	proposals, err := q.AutoAssignTables(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, m1.ID, proposals[0].MatchID)
	assert.Equal(t, tables[0].ID, proposals[0].TableID)
	assert.Equal(t, m2.ID, proposals[1].MatchID)
	assert.Equal(t, tables[1].ID, proposals[1].TableID)

	// Предложения ничего не пишут.
	assert.Nil(t, f.match(m1.ID).TableID)
}

func TestQueueService_OptimizeUsesStandings(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1")
	f.addMatch(1, 1, 1, 2) // rank gap 9
	closest := f.addMatch(1, 2, 3, 4)
	f.store.SetStandings(f.tournament.ID, []models.Standing{
		{CompetitorID: 1, Rank: 1},
		{CompetitorID: 2, Rank: 10},
		{CompetitorID: 3, Rank: 4},
		{CompetitorID: 4, Rank: 5},
	})
	q := newQueue(f)

	proposals, err := q.OptimizeQueueAssignments(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, closest.ID, proposals[0].MatchID)
	assert.Equal(t, tables[0].ID, proposals[0].TableID)
}

func TestQueueService_OptimizeUnknownStrategy(t *testing.T) {
	f := newFixture(t)
	other := &models.Tournament{Name: "Other", OrganizerID: organizer.UserID, PairingStrategy: "coin_flip"}
	require.NoError(t, f.store.Tournaments().Create(f.ctx, other))
	_, err := f.tables.CreateTable(f.ctx, organizer, other.ID, "X1")
	require.NoError(t, err)
	require.NoError(t, f.store.Matches().Create(f.ctx, &models.Match{
		TournamentID: other.ID, Round: 1, State: models.MatchReady, Player1ID: intPtr(1), Player2ID: intPtr(2),
	}))

	_, err = newQueue(f).OptimizeQueueAssignments(f.ctx, other.ID)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestQueueService_ETAs(t *testing.T) {
	f := newFixture(t)
	f.addTables("T1", "T2")
	ms := []*models.Match{f.addMatch(1, 1, 1, 2), f.addMatch(1, 2, 3, 4), f.addMatch(1, 3, 5, 6)}
	q := newQueue(f)

	etas, err := q.CalculateMatchETAs(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	require.Len(t, etas, 3)
	for i, eta := range etas {
		assert.Equal(t, ms[i].ID, eta.MatchID)
		assert.Equal(t, i+1, eta.QueuePosition)
		assert.True(t, eta.Known)
	}
	assert.Equal(t, time.Duration(0), etas[0].EstimatedWait)
	assert.Equal(t, time.Duration(0), etas[1].EstimatedWait)
	assert.Equal(t, DefaultMatchDuration, etas[2].EstimatedWait)
	assert.Equal(t, f.clock.Now().Add(DefaultMatchDuration), *etas[2].EstimatedStartAt)
}

func TestQueueService_ETAUnknownWithoutUsableTables(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	f.addMatch(1, 1, 1, 2)
	_, err := f.tables.BlockTable(f.ctx, organizer, table.ID, nil, "broken")
	require.NoError(t, err)

	etas, err := newQueue(f).CalculateMatchETAs(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	require.Len(t, etas, 1)
	assert.False(t, etas[0].Known)
	assert.Nil(t, etas[0].EstimatedStartAt)
}

func TestQueueService_ETANeverGrowsWithTime(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	ms := NewMatchService(f.store, f.tables, nil, logging.Discard(), f.clock.Now)
	startedMatch(t, f, ms, table, 1, 2)
	waiting := f.addMatch(1, 2, 3, 4)
	q := newQueue(f)

	var prev time.Duration = -1
	for i := 0; i < 5; i++ {
		etas, err := q.CalculateMatchETAs(f.ctx, f.tournament.ID)
		require.NoError(t, err)
		require.Len(t, etas, 1)
		assert.Equal(t, waiting.ID, etas[0].MatchID)
		if prev >= 0 {
			assert.LessOrEqual(t, etas[0].EstimatedWait, prev)
		}
		prev = etas[0].EstimatedWait
		f.clock.Advance(7 * time.Minute)
	}
	assert.Equal(t, time.Duration(0), prev, "overdue match clamps the wait at zero")
}

func TestQueueService_TimedBlockDelaysETA(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	f.addMatch(1, 1, 1, 2)
	until := f.clock.Now().Add(5 * time.Minute)
	_, err := f.tables.BlockTable(f.ctx, organizer, table.ID, &until, "cleaning")
	require.NoError(t, err)

	etas, err := newQueue(f).CalculateMatchETAs(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	require.Len(t, etas, 1)
	assert.True(t, etas[0].Known)
	assert.Equal(t, 5*time.Minute, etas[0].EstimatedWait)
}

func TestQueueService_AverageMatchDuration(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1", "T2")
	ms := NewMatchService(f.store, f.tables, nil, logging.Discard(), f.clock.Now)
	q := newQueue(f)

	avg, err := q.AverageMatchDuration(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultMatchDuration, avg)

	a := startedMatch(t, f, ms, tables[0], 1, 2)
	f.clock.Advance(10 * time.Minute)
	_, err = ms.CompleteMatch(f.ctx, organizer, a.ID, 1)
	require.NoError(t, err)

	b := startedMatch(t, f, ms, tables[1], 3, 4)
	f.clock.Advance(30 * time.Minute)
	_, err = ms.CompleteMatch(f.ctx, organizer, b.ID, 3)
	require.NoError(t, err)

	avg, err = q.AverageMatchDuration(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, avg)
}
