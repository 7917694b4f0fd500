package brackets

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Dosada05/tournament-dispatch/models"
)

const (
	StrategyFIFO             = "fifo"
	StrategyRankDifferential = "rank_differential"
	StrategyChipDifferential = "chip_differential"
)

type AssignParams struct {
	// Ready is the ready queue in priority order.
	Ready []*models.Match
	// Tables are the available tables in display order.
	Tables    []*models.Table
	Standings models.Standings
}

type Pairing struct {
	Match *models.Match
	Table *models.Table
}

// AssignmentStrategy proposes which ready matches go to which free tables.
// Implementations never return more than min(len(Ready), len(Tables)) pairings.
type AssignmentStrategy interface {
	Assign(ctx context.Context, params AssignParams) ([]Pairing, error)
	GetName() string
}

type FIFOStrategy struct{}

func NewFIFOStrategy() AssignmentStrategy {
	return &FIFOStrategy{}
}

func (s *FIFOStrategy) GetName() string { return StrategyFIFO }

func (s *FIFOStrategy) Assign(_ context.Context, params AssignParams) ([]Pairing, error) {
	return zip(params.Ready, params.Tables), nil
}

func zip(matches []*models.Match, tables []*models.Table) []Pairing {
	n := min(len(matches), len(tables))
	pairings := make([]Pairing, 0, n)
	for i := 0; i < n; i++ {
		pairings = append(pairings, Pairing{Match: matches[i], Table: tables[i]})
	}
	return pairings
}

// DifferentialStrategy favours the closest contests: earlier rounds first, then the
// smallest gap in the chosen standing metric. Close matches take the first tables.
type DifferentialStrategy struct {
	name       string
	metric     func(models.Standing) int64
	tiebreaker Tiebreaker
}

func NewRankDifferentialStrategy(tb Tiebreaker) AssignmentStrategy {
	return &DifferentialStrategy{
		name:       StrategyRankDifferential,
		metric:     func(s models.Standing) int64 { return int64(s.Rank) },
		tiebreaker: tb,
	}
}

func NewChipDifferentialStrategy(tb Tiebreaker) AssignmentStrategy {
	return &DifferentialStrategy{
		name:       StrategyChipDifferential,
		metric:     func(s models.Standing) int64 { return s.Chips },
		tiebreaker: tb,
	}
}

func (s *DifferentialStrategy) GetName() string { return s.name }

type rankedMatch struct {
	match    *models.Match
	queuePos int
	gap      int64
	known    bool
	best     models.Standing
}

func (s *DifferentialStrategy) Assign(ctx context.Context, params AssignParams) ([]Pairing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(params.Ready) == 0 || len(params.Tables) == 0 {
		return nil, nil
	}

	ranked := make([]rankedMatch, 0, len(params.Ready))
	for i, m := range params.Ready {
		rm := rankedMatch{match: m, queuePos: i}
		if m.Player1ID != nil && m.Player2ID != nil {
			a, okA := params.Standings[*m.Player1ID]
			b, okB := params.Standings[*m.Player2ID]
			if okA && okB {
				rm.known = true
				rm.gap = abs64(s.metric(a) - s.metric(b))
				rm.best = a
				if s.tiebreaker != nil && s.tiebreaker.Compare(b, a) < 0 {
					rm.best = b
				}
			}
		}
		ranked = append(ranked, rm)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.match.Round != b.match.Round {
			return a.match.Round < b.match.Round
		}
		if a.known != b.known {
			return a.known
		}
		if a.known && a.gap != b.gap {
			return a.gap < b.gap
		}
		if a.known && s.tiebreaker != nil {
			if c := s.tiebreaker.Compare(a.best, b.best); c != 0 {
				return c < 0
			}
		}
		return a.queuePos < b.queuePos
	})

	ordered := make([]*models.Match, len(ranked))
	for i, rm := range ranked {
		ordered[i] = rm.match
	}
	return zip(ordered, params.Tables), nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Registry maps strategy names to constructors.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]AssignmentStrategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]AssignmentStrategy)}
}

// NewDefaultRegistry knows the built-in strategies with the default tiebreak chain.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	tb := DefaultTiebreakChain()
	r.Register(NewFIFOStrategy())
	r.Register(NewRankDifferentialStrategy(tb))
	r.Register(NewChipDifferentialStrategy(tb))
	return r
}

func (r *Registry) Register(s AssignmentStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.GetName()] = s
}

func (r *Registry) Get(name string) (AssignmentStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown assignment strategy %q", name)
	}
	return s, nil
}

// Optimizer returns the optimizing strategy configured for the tournament,
// falling back to rank differential.
func (r *Registry) Optimizer(t *models.Tournament) (AssignmentStrategy, error) {
	name := StrategyRankDifferential
	if t != nil && t.PairingStrategy != "" && t.PairingStrategy != StrategyFIFO {
		name = t.PairingStrategy
	}
	return r.Get(name)
}
