package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/tournament-dispatch/models"
)

type memoryState struct {
	tournaments map[int]*models.Tournament
	matches     map[int]*models.Match
	tables      map[int]*models.Table
	events      []*models.LifecycleEvent
	standings   map[int][]models.Standing
	nextID      int
}

func newMemoryState() *memoryState {
	return &memoryState{
		tournaments: make(map[int]*models.Tournament),
		matches:     make(map[int]*models.Match),
		tables:      make(map[int]*models.Table),
		standings:   make(map[int][]models.Standing),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for id, t := range s.tournaments {
		c.tournaments[id] = t.Clone()
	}
	for id, m := range s.matches {
		c.matches[id] = m.Clone()
	}
	for id, t := range s.tables {
		c.tables[id] = t.Clone()
	}
	c.events = append(c.events, s.events...)
	for id, list := range s.standings {
		c.standings[id] = append([]models.Standing(nil), list...)
	}
	return c
}

func (s *memoryState) id() int {
	s.nextID++
	return s.nextID
}

// MemoryStore keeps everything in process memory. A transaction holds the store
// lock for its whole duration and restores a snapshot on error.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: time.Now}
}

func (s *MemoryStore) repos(inTx bool) memoryRepos {
	return memoryRepos{store: s, inTx: inTx}
}

func (s *MemoryStore) Tournaments() TournamentRepository { return s.repos(false) }
func (s *MemoryStore) Matches() MatchRepository          { return memoryMatchRepo{s.repos(false)} }
func (s *MemoryStore) Tables() TableRepository           { return memoryTableRepo{s.repos(false)} }
func (s *MemoryStore) Events() EventRepository           { return memoryEventRepo{s.repos(false)} }
func (s *MemoryStore) Standings() StandingsRepository    { return memoryStandingRepo{s.repos(false)} }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.repos(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// SetStandings replaces the roster standings of a tournament.
func (s *MemoryStore) SetStandings(tournamentID int, standings []models.Standing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.standings[tournamentID] = append([]models.Standing(nil), standings...)
}

type memoryRepos struct {
	store *MemoryStore
	inTx  bool
}

func (r memoryRepos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r memoryRepos) Tournaments() TournamentRepository { return r }
func (r memoryRepos) Matches() MatchRepository          { return memoryMatchRepo{r} }
func (r memoryRepos) Tables() TableRepository           { return memoryTableRepo{r} }
func (r memoryRepos) Events() EventRepository           { return memoryEventRepo{r} }
func (r memoryRepos) Standings() StandingsRepository    { return memoryStandingRepo{r} }

// Tournaments.

func (r memoryRepos) Create(_ context.Context, t *models.Tournament) error {
	defer r.lock()()
	st := r.store.state
	t.ID = st.id()
	if t.Status == "" {
		t.Status = models.StatusSoon
	}
	t.CreatedAt = r.store.now()
	st.tournaments[t.ID] = t.Clone()
	return nil
}

func (r memoryRepos) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	defer r.lock()()
	t, ok := r.store.state.tournaments[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return t.Clone(), nil
}

func (r memoryRepos) UpdateStatus(_ context.Context, id int, status models.TournamentStatus) error {
	defer r.lock()()
	t, ok := r.store.state.tournaments[id]
	if !ok {
		return ErrTournamentNotFound
	}
	t.Status = status
	return nil
}

func (r memoryRepos) ListByStatus(_ context.Context, status models.TournamentStatus) ([]*models.Tournament, error) {
	defer r.lock()()
	out := make([]*models.Tournament, 0)
	for _, t := range r.store.state.tournaments {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryMatchRepo struct{ memoryRepos }

func (r memoryMatchRepo) Create(_ context.Context, m *models.Match) error {
	defer r.lock()()
	st := r.store.state
	if _, ok := st.tournaments[m.TournamentID]; !ok {
		return fmt.Errorf("%w: tournament %d", ErrTournamentNotFound, m.TournamentID)
	}
	m.ID = st.id()
	if m.State == "" {
		m.State = models.MatchPending
	}
	now := r.store.now()
	m.CreatedAt, m.UpdatedAt = now, now
	st.matches[m.ID] = m.Clone()
	return nil
}

func (r memoryMatchRepo) GetByID(_ context.Context, id int) (*models.Match, error) {
	defer r.lock()()
	m, ok := r.store.state.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (r memoryMatchRepo) GetByIDForUpdate(ctx context.Context, id int) (*models.Match, error) {
	return r.GetByID(ctx, id)
}

func (r memoryMatchRepo) ListByTournament(_ context.Context, tournamentID int, states ...models.MatchState) ([]*models.Match, error) {
	defer r.lock()()
	want := make(map[models.MatchState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	out := make([]*models.Match, 0)
	for _, m := range r.store.state.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if len(want) > 0 && !want[m.State] {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memoryMatchRepo) Update(_ context.Context, m *models.Match, expectedRevision int64) error {
	defer r.lock()()
	stored, ok := r.store.state.matches[m.ID]
	if !ok {
		return ErrMatchNotFound
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: match %d expected revision %d", ErrRevisionConflict, m.ID, expectedRevision)
	}
	if m.TableID != nil {
		for _, other := range r.store.state.matches {
			if other.ID != m.ID && other.TableID != nil && *other.TableID == *m.TableID {
				return fmt.Errorf("%w: table %d", ErrTableReferenced, *m.TableID)
			}
		}
	}
	m.UpdatedAt = r.store.now()
	r.store.state.matches[m.ID] = m.Clone()
	return nil
}

type memoryTableRepo struct{ memoryRepos }

func (r memoryTableRepo) labelTaken(t *models.Table) bool {
	for _, other := range r.store.state.tables {
		if other.ID != t.ID && other.TournamentID == t.TournamentID && other.Label == t.Label {
			return true
		}
	}
	return false
}

func (r memoryTableRepo) Create(_ context.Context, t *models.Table) error {
	defer r.lock()()
	st := r.store.state
	if _, ok := st.tournaments[t.TournamentID]; !ok {
		return fmt.Errorf("%w: tournament %d", ErrTournamentNotFound, t.TournamentID)
	}
	if r.labelTaken(t) {
		return fmt.Errorf("%w: %q", ErrTableLabelConflict, t.Label)
	}
	t.ID = st.id()
	if t.Status == "" {
		t.Status = models.TableAvailable
	}
	now := r.store.now()
	t.CreatedAt, t.UpdatedAt = now, now
	st.tables[t.ID] = t.Clone()
	return nil
}

func (r memoryTableRepo) GetByID(_ context.Context, id int) (*models.Table, error) {
	defer r.lock()()
	t, ok := r.store.state.tables[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t.Clone(), nil
}

func (r memoryTableRepo) GetByIDForUpdate(ctx context.Context, id int) (*models.Table, error) {
	return r.GetByID(ctx, id)
}

func (r memoryTableRepo) ListByTournament(_ context.Context, tournamentID int) ([]*models.Table, error) {
	defer r.lock()()
	out := make([]*models.Table, 0)
	for _, t := range r.store.state.tables {
		if t.TournamentID == tournamentID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memoryTableRepo) Update(_ context.Context, t *models.Table) error {
	defer r.lock()()
	if _, ok := r.store.state.tables[t.ID]; !ok {
		return ErrTableNotFound
	}
	if r.labelTaken(t) {
		return fmt.Errorf("%w: %q", ErrTableLabelConflict, t.Label)
	}
	t.UpdatedAt = r.store.now()
	r.store.state.tables[t.ID] = t.Clone()
	return nil
}

func (r memoryTableRepo) Delete(_ context.Context, id int) error {
	defer r.lock()()
	if _, ok := r.store.state.tables[id]; !ok {
		return ErrTableNotFound
	}
	delete(r.store.state.tables, id)
	return nil
}

type memoryEventRepo struct{ memoryRepos }

func (r memoryEventRepo) Append(_ context.Context, e *models.LifecycleEvent) error {
	defer r.lock()()
	stored := *e
	r.store.state.events = append(r.store.state.events, &stored)
	return nil
}

func (r memoryEventRepo) ListByMatch(_ context.Context, matchID int) ([]*models.LifecycleEvent, error) {
	defer r.lock()()
	return r.filter(func(e *models.LifecycleEvent) bool { return e.MatchID == matchID }), nil
}

func (r memoryEventRepo) ListByTournament(_ context.Context, tournamentID int) ([]*models.LifecycleEvent, error) {
	defer r.lock()()
	return r.filter(func(e *models.LifecycleEvent) bool { return e.TournamentID == tournamentID }), nil
}

func (r memoryEventRepo) filter(keep func(*models.LifecycleEvent) bool) []*models.LifecycleEvent {
	out := make([]*models.LifecycleEvent, 0)
	for _, e := range r.store.state.events {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

type memoryStandingRepo struct{ memoryRepos }

func (r memoryStandingRepo) ListByTournament(_ context.Context, tournamentID int) ([]models.Standing, error) {
	defer r.lock()()
	return append([]models.Standing(nil), r.store.state.standings[tournamentID]...), nil
}
