package services

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/tournament-dispatch/brackets"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

// DefaultMatchDuration is used for ETAs until a tournament has finished matches.
const DefaultMatchDuration = 20 * time.Minute

// QueueService reads the ready queue and proposes assignments. It never writes:
// proposals are persisted through TableService.AssignTable.
type QueueService interface {
	GetQueueStatus(ctx context.Context, tournamentID int) (*models.QueueStatus, error)
	AutoAssignTables(ctx context.Context, tournamentID int) ([]models.Assignment, error)
	OptimizeQueueAssignments(ctx context.Context, tournamentID int) ([]models.Assignment, error)
	CalculateMatchETAs(ctx context.Context, tournamentID int) ([]models.MatchETA, error)
	AverageMatchDuration(ctx context.Context, tournamentID int) (time.Duration, error)
}

type QueueServiceOptions struct {
	DefaultMatchDuration time.Duration
	Strategies           *brackets.Registry
	Now                  func() time.Time
}

type queueService struct {
	store           repositories.Store
	strategies      *brackets.Registry
	defaultDuration time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewQueueService(store repositories.Store, logger *slog.Logger, opts QueueServiceOptions) QueueService {
	if opts.DefaultMatchDuration <= 0 {
		opts.DefaultMatchDuration = DefaultMatchDuration
	}
	if opts.Strategies == nil {
		opts.Strategies = brackets.NewDefaultRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &queueService{
		store:           store,
		strategies:      opts.Strategies,
		defaultDuration: opts.DefaultMatchDuration,
		logger:          logger.With("component", "queue"),
		now:             opts.Now,
	}
}

// snapshot is one consistent-enough read of a tournament's tables and matches.
type snapshot struct {
	tables  []*models.Table
	matches []*models.Match
	at      time.Time
}

func (s *queueService) load(ctx context.Context, tournamentID int) (*snapshot, error) {
	snap := &snapshot{at: s.now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tables, err := s.store.Tables().ListByTournament(gctx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}
		snap.tables = tables
		return nil
	})
	g.Go(func() error {
		matches, err := s.store.Matches().ListByTournament(gctx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to list matches: %w", err)
		}
		snap.matches = matches
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// queue returns queueable matches ordered by round, position and id.
func (snap *snapshot) queue() []*models.Match {
	ready := make([]*models.Match, 0)
	for _, m := range snap.matches {
		if m.IsQueueable() {
			ready = append(ready, m)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return ready
}

func (snap *snapshot) availableTables() []*models.Table {
	available := make([]*models.Table, 0)
	for _, t := range snap.tables {
		if t.IsAvailableAt(snap.at) {
			available = append(available, t)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	return available
}

func (snap *snapshot) status(tournamentID int) *models.QueueStatus {
	status := &models.QueueStatus{
		TournamentID:    tournamentID,
		AvailableTables: snap.availableTables(),
		ReadyMatches:    snap.queue(),
		GeneratedAt:     snap.at,
	}
	for _, m := range snap.matches {
		if m.State.IsTerminal() {
			continue
		}
		if m.HasTable() {
			status.ActiveMatches++
		}
		if !m.HasPlayers() {
			status.PendingMatches++
		}
	}
	return status
}

func (s *queueService) GetQueueStatus(ctx context.Context, tournamentID int) (*models.QueueStatus, error) {
	snap, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	return snap.status(tournamentID), nil
}

func toAssignments(pairings []brackets.Pairing, at time.Time) []models.Assignment {
	assignments := make([]models.Assignment, 0, len(pairings))
	for _, p := range pairings {
		assignments = append(assignments, *newAssignment(p.Match, p.Table, at))
	}
	return assignments
}

// AutoAssignTables pairs the queue head with the next available table, min(N, M) times.
func (s *queueService) AutoAssignTables(ctx context.Context, tournamentID int) ([]models.Assignment, error) {
	snap, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	pairings, err := brackets.NewFIFOStrategy().Assign(ctx, brackets.AssignParams{
		Ready:  snap.queue(),
		Tables: snap.availableTables(),
	})
	if err != nil {
		return nil, err
	}
	return toAssignments(pairings, snap.at), nil
}

// OptimizeQueueAssignments proposes assignments with the tournament's pairing strategy.
func (s *queueService) OptimizeQueueAssignments(ctx context.Context, tournamentID int) ([]models.Assignment, error) {
	tournament, err := s.store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	strategy, err := s.strategies.Optimizer(tournament)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	snap, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	ready, tables := snap.queue(), snap.availableTables()
	if len(ready) == 0 || len(tables) == 0 {
		return nil, nil
	}
	standings, err := s.store.Standings().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load standings: %w", err)
	}

	pairings, err := strategy.Assign(ctx, brackets.AssignParams{
		Ready:     ready,
		Tables:    tables,
		Standings: models.NewStandings(standings),
	})
	if err != nil {
		return nil, fmt.Errorf("strategy %s failed: %w", strategy.GetName(), err)
	}
	s.logger.DebugContext(ctx, "optimized assignments proposed",
		slog.Int("tournament_id", tournamentID),
		slog.String("strategy", strategy.GetName()),
		slog.Int("count", len(pairings)))
	return toAssignments(pairings, snap.at), nil
}

// AverageMatchDuration is the mean length of completed matches, or the default
// when none has finished yet.
func (s *queueService) AverageMatchDuration(ctx context.Context, tournamentID int) (time.Duration, error) {
	matches, err := s.store.Matches().ListByTournament(ctx, tournamentID, models.MatchCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed matches: %w", err)
	}
	return averageDuration(matches, s.defaultDuration), nil
}

func averageDuration(matches []*models.Match, fallback time.Duration) time.Duration {
	var (
		total time.Duration
		n     int64
	)
	for _, m := range matches {
		if m.State != models.MatchCompleted || m.StartedAt == nil || m.CompletedAt == nil {
			continue
		}
		d := m.CompletedAt.Sub(*m.StartedAt)
		if d <= 0 {
			continue
		}
		total += d
		n++
	}
	if n == 0 {
		return fallback
	}
	return total / time.Duration(n)
}

func (s *queueService) CalculateMatchETAs(ctx context.Context, tournamentID int) ([]models.MatchETA, error) {
	snap, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	avg := averageDuration(snap.matches, s.defaultDuration)
	return estimateETAs(snap, avg), nil
}

// freeAtHeap is a min-heap of offsets from now at which a table frees up.
type freeAtHeap []time.Duration

func (h freeAtHeap) Len() int            { return len(h) }
func (h freeAtHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h freeAtHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *freeAtHeap) Push(x interface{}) { *h = append(*h, x.(time.Duration)) }
func (h *freeAtHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// estimateETAs simulates tables draining the queue in priority order.
// Offsets only shrink as time passes, so an ETA never grows by waiting.
func estimateETAs(snap *snapshot, avg time.Duration) []models.MatchETA {
	byID := make(map[int]*models.Match, len(snap.matches))
	for _, m := range snap.matches {
		byID[m.ID] = m
	}

	h := make(freeAtHeap, 0, len(snap.tables))
	for _, t := range snap.tables {
		offset, usable := tableFreeAt(t, byID, avg, snap.at)
		if usable {
			h = append(h, offset)
		}
	}
	heap.Init(&h)

	queue := snap.queue()
	etas := make([]models.MatchETA, 0, len(queue))
	for i, m := range queue {
		eta := models.MatchETA{MatchID: m.ID, QueuePosition: i + 1}
		if h.Len() > 0 {
			wait := heap.Pop(&h).(time.Duration)
			heap.Push(&h, wait+avg)
			start := snap.at.Add(wait)
			eta.EstimatedWait = wait
			eta.EstimatedStartAt = &start
			eta.Known = true
		}
		etas = append(etas, eta)
	}
	return etas
}

func tableFreeAt(t *models.Table, matches map[int]*models.Match, avg time.Duration, now time.Time) (time.Duration, bool) {
	var offset time.Duration
	switch {
	case t.CurrentMatchID != nil:
		offset = avg
		if m, ok := matches[*t.CurrentMatchID]; ok && m.StartedAt != nil {
			offset = avg - now.Sub(*m.StartedAt)
		}
	case t.Status == models.TableMaintenance && t.BlockedUntil == nil:
		return 0, false
	}
	if t.IsBlockedAt(now) {
		offset = max(offset, t.BlockedUntil.Sub(now))
	}
	return max(offset, 0), true
}
