package brackets

import (
	"fmt"
	"sort"

	"github.com/Dosada05/tournament-dispatch/models"
)

// Tiebreaker orders two competitors that are otherwise level.
// Compare returns a negative number when a ranks ahead of b, positive when b does
// and zero when it cannot decide.
type Tiebreaker interface {
	Compare(a, b models.Standing) int
	GetName() string
}

type HeadToHeadTiebreaker struct{}

func (HeadToHeadTiebreaker) GetName() string { return "head_to_head" }

func (HeadToHeadTiebreaker) Compare(a, b models.Standing) int {
	aWins := a.HeadToHead[b.CompetitorID]
	bWins := b.HeadToHead[a.CompetitorID]
	return bWins - aWins
}

// SeedTiebreaker puts the better (lower) seed first. Seed 0 means unseeded.
type SeedTiebreaker struct{}

func (SeedTiebreaker) GetName() string { return "seed" }

func (SeedTiebreaker) Compare(a, b models.Standing) int {
	switch {
	case a.Seed == b.Seed:
		return 0
	case a.Seed == 0:
		return 1
	case b.Seed == 0:
		return -1
	}
	return a.Seed - b.Seed
}

// CompetitorIDTiebreaker always decides, so it belongs at the end of a chain.
type CompetitorIDTiebreaker struct{}

func (CompetitorIDTiebreaker) GetName() string { return "competitor_id" }

func (CompetitorIDTiebreaker) Compare(a, b models.Standing) int {
	return a.CompetitorID - b.CompetitorID
}

// TiebreakChain applies tiebreakers in order until one decides.
type TiebreakChain []Tiebreaker

func (c TiebreakChain) GetName() string { return "chain" }

func (c TiebreakChain) Compare(a, b models.Standing) int {
	for _, tb := range c {
		if r := tb.Compare(a, b); r != 0 {
			return r
		}
	}
	return 0
}

// DefaultTiebreakChain resolves ties by head-to-head record, then lowest competitor id.
func DefaultTiebreakChain() TiebreakChain {
	return TiebreakChain{HeadToHeadTiebreaker{}, CompetitorIDTiebreaker{}}
}

// TiebreakerByName resolves a configured tiebreak rule. Every rule ends with the
// competitor id so the result is always total.
func TiebreakerByName(name string) (Tiebreaker, error) {
	switch name {
	case "", "default", "head_to_head":
		return DefaultTiebreakChain(), nil
	case "seed":
		return TiebreakChain{SeedTiebreaker{}, CompetitorIDTiebreaker{}}, nil
	case "competitor_id":
		return CompetitorIDTiebreaker{}, nil
	}
	return nil, fmt.Errorf("unknown tiebreaker %q", name)
}

// SelectFinalists returns the top n competitors by points, using tb at the cutoff.
// The result does not depend on the input order.
func SelectFinalists(standings []models.Standing, n int, tb Tiebreaker) []models.Standing {
	if n <= 0 {
		return nil
	}
	sorted := append([]models.Standing(nil), standings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CompetitorID < sorted[j].CompetitorID })
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Points != sorted[j].Points {
			return sorted[i].Points > sorted[j].Points
		}
		if tb == nil {
			return false
		}
		return tb.Compare(sorted[i], sorted[j]) < 0
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
