package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

var (
	organizer = models.Principal{UserID: 10, Role: models.RoleOrganizer, Device: "desk"}
	stranger  = models.Principal{UserID: 11, Role: models.RoleOrganizer}
)

func intPtr(v int) *int { return &v }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture is one tournament owned by organizer in a memory store.
type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *repositories.MemoryStore
	clock      *fakeClock
	tournament *models.Tournament
	tables     TableService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: repositories.NewMemoryStore(),
		clock: newFakeClock(),
	}
	f.tournament = &models.Tournament{Name: "Spring Open", OrganizerID: organizer.UserID, Status: models.StatusActive}
	require.NoError(t, f.store.Tournaments().Create(f.ctx, f.tournament))
	f.tables = NewTableService(f.store, logging.Discard(), TableServiceOptions{Now: f.clock.Now})
	return f
}

func (f *fixture) addTables(labels ...string) []*models.Table {
	f.t.Helper()
	tables, err := f.tables.BulkCreateTables(f.ctx, organizer, f.tournament.ID, labels)
	require.NoError(f.t, err)
	return tables
}

// addMatch stores a ready match between p1 and p2 at round/position.
func (f *fixture) addMatch(round, position, p1, p2 int) *models.Match {
	f.t.Helper()
	m := &models.Match{
		TournamentID: f.tournament.ID,
		Round:        round,
		Position:     position,
		Bracket:      "main",
		State:        models.MatchReady,
	}
	if p1 != 0 {
		m.Player1ID = intPtr(p1)
	}
	if p2 != 0 {
		m.Player2ID = intPtr(p2)
	}
	require.NoError(f.t, f.store.Matches().Create(f.ctx, m))
	return m
}

func (f *fixture) match(id int) *models.Match {
	f.t.Helper()
	m, err := f.store.Matches().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) table(id int) *models.Table {
	f.t.Helper()
	table, err := f.store.Tables().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return table
}

// mockPort records notifications.
type mockPort struct {
	mock.Mock
}

func (m *mockPort) EmitToTournament(ctx context.Context, tournamentID int, n models.Notification) error {
	args := m.Called(ctx, tournamentID, n)
	return args.Error(0)
}

func (m *mockPort) EmitToUser(ctx context.Context, userID, tournamentID int, n models.Notification) error {
	args := m.Called(ctx, userID, tournamentID, n)
	return args.Error(0)
}

// kinds returns the notification kinds passed to method, in call order.
func (m *mockPort) kinds(method string) []models.NotificationKind {
	var out []models.NotificationKind
	for _, call := range m.Calls {
		if call.Method != method {
			continue
		}
		n := call.Arguments.Get(len(call.Arguments) - 1).(models.Notification)
		out = append(out, n.Kind())
	}
	return out
}

func newMockPort() *mockPort {
	p := &mockPort{}
	p.On("EmitToTournament", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	p.On("EmitToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return p
}
