package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/storage"
)

type recordingListener struct {
	calls []models.TournamentStatus
	err   error
}

func (l *recordingListener) OnTournamentStatusChanged(_ context.Context, _ int, status models.TournamentStatus) error {
	l.calls = append(l.calls, status)
	return l.err
}

func TestTournamentService_Create(t *testing.T) {
	f := newFixture(t)
	svc := NewTournamentService(f.store, nil, nil, logging.Discard())

	_, err := svc.CreateTournament(f.ctx, organizer, &models.Tournament{Name: "   "})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = svc.CreateTournament(f.ctx, organizer, &models.Tournament{Name: "Cup", Status: "paused"})
	assert.ErrorIs(t, err, ErrTournamentInvalidStatus)

	created, err := svc.CreateTournament(f.ctx, organizer, &models.Tournament{Name: " Cup ", OrganizerID: 99})
	require.NoError(t, err)
	assert.Equal(t, "Cup", created.Name)
	assert.Equal(t, organizer.UserID, created.OrganizerID, "organizers always own what they create")
	assert.Equal(t, models.StatusSoon, created.Status)

	admin := models.Principal{UserID: 1, Role: models.RoleAdmin}
	_, err = svc.CreateTournament(f.ctx, admin, &models.Tournament{Name: "Orphan"})
	assert.ErrorIs(t, err, ErrValidationFailed)

	delegated, err := svc.CreateTournament(f.ctx, admin, &models.Tournament{Name: "Delegated", OrganizerID: stranger.UserID})
	require.NoError(t, err)
	got, err := svc.GetTournament(f.ctx, stranger, delegated.ID)
	require.NoError(t, err)
	assert.Equal(t, "Delegated", got.Name)
}

func TestTournamentService_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	listener := &recordingListener{}
	svc := NewTournamentService(f.store, listener, nil, logging.Discard())

	created, err := svc.CreateTournament(f.ctx, organizer, &models.Tournament{Name: "Cup"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(f.ctx, organizer, created.ID, "bogus")
	assert.ErrorIs(t, err, ErrTournamentInvalidStatus)

	_, err = svc.UpdateStatus(f.ctx, organizer, created.ID, string(models.StatusCompleted))
	assert.ErrorIs(t, err, ErrTournamentInvalidStatusTransition)

	_, err = svc.UpdateStatus(f.ctx, stranger, created.ID, string(models.StatusActive))
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := svc.UpdateStatus(f.ctx, organizer, created.ID, string(models.StatusActive))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)

	// Ошибка хука не отменяет смену статуса.
	listener.err = fmt.Errorf("scheduler busy")
	_, err = svc.UpdateStatus(f.ctx, organizer, created.ID, "cancelled")
	require.NoError(t, err)

	_, err = svc.UpdateStatus(f.ctx, organizer, created.ID, string(models.StatusActive))
	assert.ErrorIs(t, err, ErrTournamentFinished)

	assert.Equal(t, []models.TournamentStatus{models.StatusActive, models.StatusCanceled}, listener.calls)
}

func TestTournamentService_ArchivesAuditLogWhenFinished(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	m := f.addMatch(1, 1, 100, 200)
	_, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)
	_, err = f.tables.ReleaseTable(f.ctx, organizer, table.ID)
	require.NoError(t, err)

	archive := storage.NewMemoryArchive()
	audit := NewAuditService(f.store, archive, logging.Discard(), f.clock.Now)
	svc := NewTournamentService(f.store, nil, audit, logging.Discard())

	_, err = svc.UpdateStatus(f.ctx, organizer, f.tournament.ID, string(models.StatusCompleted))
	require.NoError(t, err)

	keys := archive.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, fmt.Sprintf("audit/tournament_%d/20240501T120000Z.ndjson", f.tournament.ID), keys[0])

	data, ok := archive.Object(keys[0])
	require.True(t, ok)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var first models.LifecycleEvent
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, models.EventMatchTransitioned, first.Kind)
	assert.Equal(t, m.ID, first.MatchID)

	events, err := svc.ListEvents(f.ctx, organizer, f.tournament.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTournamentService_Finalists(t *testing.T) {
	f := newFixture(t)
	svc := NewTournamentService(f.store, nil, nil, logging.Discard())
	f.store.SetStandings(f.tournament.ID, []models.Standing{
		{CompetitorID: 4, Points: 9, Seed: 1},
		{CompetitorID: 2, Points: 12},
		{CompetitorID: 3, Points: 9, Seed: 2, HeadToHead: map[int]int{4: 1}},
		{CompetitorID: 1, Points: 3},
	})

	_, err := svc.Finalists(f.ctx, organizer, f.tournament.ID, 0, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = svc.Finalists(f.ctx, organizer, f.tournament.ID, 2, "coin_flip")
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = svc.Finalists(f.ctx, stranger, f.tournament.ID, 2, "")
	assert.ErrorIs(t, err, ErrNotFound)

	ids := func(list []models.Standing) []int {
		out := make([]int, 0, len(list))
		for _, s := range list {
			out = append(out, s.CompetitorID)
		}
		return out
	}

	byRecord, err := svc.Finalists(f.ctx, organizer, f.tournament.ID, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids(byRecord))

	bySeed, err := svc.Finalists(f.ctx, organizer, f.tournament.ID, 2, "seed")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, ids(bySeed))

	all, err := svc.Finalists(f.ctx, organizer, f.tournament.ID, 10, "competitor_id")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 1}, ids(all))
}
