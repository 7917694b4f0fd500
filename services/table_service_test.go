package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/models"
)

func TestTableService_BulkCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.tables.BulkCreateTables(f.ctx, organizer, f.tournament.ID, nil)
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = f.tables.BulkCreateTables(f.ctx, organizer, f.tournament.ID, []string{"T1", " T1 "})
	assert.ErrorIs(t, err, ErrTableLabelConflict)

	_, err = f.tables.BulkCreateTables(f.ctx, organizer, f.tournament.ID, []string{"T1", "  "})
	assert.ErrorIs(t, err, ErrValidationFailed)

	f.addTables("T1")
	_, err = f.tables.BulkCreateTables(f.ctx, organizer, f.tournament.ID, []string{"T2", "T1"})
	assert.ErrorIs(t, err, ErrTableLabelConflict)

	tables, err := f.tables.ListTables(f.ctx, organizer, f.tournament.ID)
	require.NoError(t, err)
	assert.Len(t, tables, 1, "failed bulk create must not leave partial rows")
}

func TestTableService_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]

	_, err := f.tables.ListTables(f.ctx, stranger, f.tournament.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.tables.CheckAvailability(f.ctx, stranger, table.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.tables.CreateTable(f.ctx, stranger, f.tournament.ID, "T9")
	assert.ErrorIs(t, err, ErrNotFound)

	admin := models.Principal{UserID: 1, Role: models.RoleAdmin}
	_, err = f.tables.ListTables(f.ctx, admin, f.tournament.ID)
	assert.NoError(t, err)
}

func TestTableService_AssignTable(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	m := f.addMatch(1, 1, 100, 200)

	a, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)
	assert.Equal(t, table.ID, a.TableID)
	assert.Equal(t, "T1", a.TableLabel)
	assert.Equal(t, 100, *a.Player1ID)

	stored := f.match(m.ID)
	assert.Equal(t, models.MatchAssigned, stored.State)
	assert.Equal(t, table.ID, *stored.TableID)
	assert.EqualValues(t, 1, stored.Revision)

	tbl := f.table(table.ID)
	assert.Equal(t, models.TableInUse, tbl.Status)
	assert.Equal(t, m.ID, *tbl.CurrentMatchID)

	events, err := f.store.Events().ListByMatch(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user:10", events[0].Actor)

	// Повторное назначение на тот же стол идемпотентно.
	_, err = f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.match(m.ID).Revision)
}

func TestTableService_AssignConflicts(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1", "T2", "T3")
	first := f.addMatch(1, 1, 100, 200)
	second := f.addMatch(1, 2, 300, 400)

	_, err := f.tables.AssignTable(f.ctx, organizer, first.ID, tables[0].ID)
	require.NoError(t, err)

	t.Run("double booking", func(t *testing.T) {
		_, err := f.tables.AssignTable(f.ctx, organizer, second.ID, tables[0].ID)
		ce, ok := IsConflict(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, ConflictDoubleBooking, ce.Kind)
	})

	t.Run("match already placed", func(t *testing.T) {
		_, err := f.tables.AssignTable(f.ctx, organizer, first.ID, tables[1].ID)
		ce, ok := IsConflict(err)
		require.True(t, ok)
		assert.Equal(t, ConflictDoubleBooking, ce.Kind)
	})

	t.Run("maintenance", func(t *testing.T) {
		_, err := f.tables.BlockTable(f.ctx, organizer, tables[1].ID, nil, "broken leg")
		require.NoError(t, err)
		_, err = f.tables.AssignTable(f.ctx, organizer, second.ID, tables[1].ID)
		ce, ok := IsConflict(err)
		require.True(t, ok)
		assert.Equal(t, ConflictMaintenance, ce.Kind)
	})

	t.Run("hold", func(t *testing.T) {
		_, err := f.tables.HoldTable(f.ctx, organizer, tables[2].ID, f.clock.Now().Add(time.Minute))
		require.NoError(t, err)
		_, err = f.tables.AssignTable(f.ctx, organizer, second.ID, tables[2].ID)
		ce, ok := IsConflict(err)
		require.True(t, ok)
		assert.Equal(t, ConflictBlocked, ce.Kind)
	})

	assert.Nil(t, f.match(second.ID).TableID)
	assert.Equal(t, models.MatchReady, f.match(second.ID).State)
}

func TestTableService_ConcurrentAssignOneWinner(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	matches := []*models.Match{
		f.addMatch(1, 1, 1, 2),
		f.addMatch(1, 2, 3, 4),
		f.addMatch(1, 3, 5, 6),
		f.addMatch(1, 4, 7, 8),
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, m := range matches {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := f.tables.AssignTable(f.ctx, organizer, id, table.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if _, ok := IsConflict(err); ok {
				conflicts++
			}
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, conflicts)
}

func TestTableService_BlockPausesActiveMatch(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	m := f.addMatch(1, 1, 100, 200)
	matches := NewMatchService(f.store, f.tables, nil, logging.Discard(), f.clock.Now)

	_, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)
	_, err = matches.StartMatch(f.ctx, organizer, m.ID)
	require.NoError(t, err)

	until := f.clock.Now().Add(15 * time.Minute)
	blocked, err := f.tables.BlockTable(f.ctx, organizer, table.ID, &until, "spill")
	require.NoError(t, err)
	assert.Equal(t, models.TableMaintenance, blocked.Status)
	assert.Nil(t, blocked.CurrentMatchID)

	stored := f.match(m.ID)
	assert.Equal(t, models.MatchPaused, stored.State)
	assert.Nil(t, stored.TableID)
	assert.True(t, stored.IsQueueable(), "paused match goes back to the queue")

	f.clock.Advance(16 * time.Minute)
	n, err := f.tables.ExpireBlocks(f.ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.TableAvailable, f.table(table.ID).Status)

	// Пауза переезжает на другой стол без смены состояния.
	a, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)
	assert.Equal(t, table.ID, a.TableID)
	assert.Equal(t, models.MatchPaused, f.match(m.ID).State)
}

func TestTableService_ReleaseAndTurnaround(t *testing.T) {
	f := newFixture(t)
	f.tables = NewTableService(f.store, logging.Discard(), TableServiceOptions{Turnaround: 2 * time.Minute, Now: f.clock.Now})
	table := f.addTables("T1")[0]
	m := f.addMatch(1, 1, 100, 200)

	_, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)

	released, err := f.tables.ReleaseTable(f.ctx, organizer, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, released.Status)
	assert.Nil(t, released.CurrentMatchID)
	require.NotNil(t, released.BlockedUntil)

	avail, err := f.tables.CheckAvailability(f.ctx, organizer, table.ID)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Equal(t, string(ConflictBlocked), avail.Conflict)

	f.clock.Advance(3 * time.Minute)
	avail, err = f.tables.CheckAvailability(f.ctx, organizer, table.ID)
	require.NoError(t, err)
	assert.True(t, avail.Available)

	stored := f.match(m.ID)
	assert.Equal(t, models.MatchAssigned, stored.State)
	assert.Nil(t, stored.TableID)

	// Освобождение пустого стола ничего не меняет.
	again, err := f.tables.ReleaseTable(f.ctx, organizer, table.ID)
	require.NoError(t, err)
	assert.Nil(t, again.CurrentMatchID)
}

func TestTableService_DeleteAndHoldRejectOccupied(t *testing.T) {
	f := newFixture(t)
	tables := f.addTables("T1", "T2")
	m := f.addMatch(1, 1, 100, 200)
	_, err := f.tables.AssignTable(f.ctx, organizer, m.ID, tables[0].ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.tables.DeleteTable(f.ctx, organizer, tables[0].ID), ErrTableOccupied)
	_, err = f.tables.HoldTable(f.ctx, organizer, tables[0].ID, f.clock.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrTableOccupied)
	_, err = f.tables.HoldTable(f.ctx, organizer, tables[1].ID, f.clock.Now())
	assert.ErrorIs(t, err, ErrValidationFailed)

	require.NoError(t, f.tables.DeleteTable(f.ctx, organizer, tables[1].ID))
	_, err = f.tables.CheckAvailability(f.ctx, organizer, tables[1].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableService_Unblock(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]

	_, err := f.tables.BlockTable(f.ctx, organizer, table.ID, nil, "")
	require.NoError(t, err)
	unblocked, err := f.tables.UnblockTable(f.ctx, organizer, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, unblocked.Status)
	assert.Nil(t, unblocked.BlockedUntil)
}

func TestTableService_ReleaseFinishedOccupant(t *testing.T) {
	f := newFixture(t)
	table := f.addTables("T1")[0]
	m := f.addMatch(1, 1, 100, 200)
	_, err := f.tables.AssignTable(f.ctx, organizer, m.ID, table.ID)
	require.NoError(t, err)

	// Матч завершён в обход сервиса, стол всё ещё числится за ним.
	stored := f.match(m.ID)
	stored.State = models.MatchCancelled
	require.NoError(t, f.store.Matches().Update(f.ctx, stored, stored.Revision))

	_, err = f.tables.ReleaseTable(f.ctx, organizer, table.ID)
	require.NoError(t, err)

	finished := f.match(m.ID)
	assert.Equal(t, models.MatchCancelled, finished.State)
	assert.Nil(t, finished.TableID)
	assert.EqualValues(t, 2, finished.Revision)

	events, err := f.store.Events().ListByMatch(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTableReleased, events[1].Kind)
	assert.Greater(t, events[1].Revision, events[0].Revision)
	assert.Equal(t, table.ID, events[1].Payload.(models.TableReleasedPayload).TableID)
}
