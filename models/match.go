package models

import (
	"encoding/json"
	"time"
)

// MatchState представляет состояние матча в жизненном цикле.
type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchReady     MatchState = "ready"
	MatchAssigned  MatchState = "assigned"
	MatchActive    MatchState = "active"
	MatchPaused    MatchState = "paused"
	MatchCompleted MatchState = "completed"
	MatchCancelled MatchState = "cancelled"
	MatchAbandoned MatchState = "abandoned"
	MatchForfeited MatchState = "forfeited"
)

// ValidMatchTransitions is the full edge set of the match lifecycle.
// States without an entry are terminal.
var ValidMatchTransitions = map[MatchState][]MatchState{
	MatchPending:  {MatchReady, MatchAssigned, MatchCancelled},
	MatchReady:    {MatchAssigned, MatchActive, MatchCancelled},
	MatchAssigned: {MatchActive, MatchCancelled},
	MatchActive:   {MatchPaused, MatchCompleted, MatchAbandoned, MatchForfeited},
	MatchPaused:   {MatchActive, MatchAbandoned, MatchForfeited},
}

var knownMatchStates = map[MatchState]bool{
	MatchPending: true, MatchReady: true, MatchAssigned: true, MatchActive: true, MatchPaused: true,
	MatchCompleted: true, MatchCancelled: true, MatchAbandoned: true, MatchForfeited: true,
}

func (s MatchState) IsValid() bool {
	return knownMatchStates[s]
}

// IsTerminal returns true if no transition leaves s.
func (s MatchState) IsTerminal() bool {
	switch s {
	case MatchCompleted, MatchCancelled, MatchAbandoned, MatchForfeited:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> target exists. Guards are not checked.
func (s MatchState) CanTransitionTo(target MatchState) bool {
	for _, allowed := range ValidMatchTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Match описывает один матч между двумя участниками на физическом столе.
type Match struct {
	ID           int             `json:"id" db:"id"`
	TournamentID int             `json:"tournament_id" db:"tournament_id"`
	Round        int             `json:"round" db:"round"`
	Position     int             `json:"position" db:"position"`
	Bracket      string          `json:"bracket,omitempty" db:"bracket"`
	Player1ID    *int            `json:"player1_id,omitempty" db:"player1_id"`
	Player2ID    *int            `json:"player2_id,omitempty" db:"player2_id"`
	State        MatchState      `json:"state" db:"state"`
	TableID      *int            `json:"table_id,omitempty" db:"table_id"`
	WinnerID     *int            `json:"winner_id,omitempty" db:"winner_id"`
	StartedAt    *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	Score        json.RawMessage `json:"score,omitempty" db:"score"`
	Revision     int64           `json:"revision" db:"revision"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

func (m *Match) HasPlayers() bool {
	return m.Player1ID != nil && m.Player2ID != nil
}

func (m *Match) HasTable() bool {
	return m.TableID != nil
}

// IsParticipant reports whether id occupies one of the two slots.
func (m *Match) IsParticipant(id int) bool {
	return (m.Player1ID != nil && *m.Player1ID == id) || (m.Player2ID != nil && *m.Player2ID == id)
}

// Opponent returns the slot other than id, or nil if id is not a participant.
func (m *Match) Opponent(id int) *int {
	switch {
	case m.Player1ID != nil && *m.Player1ID == id:
		return copyIntPtr(m.Player2ID)
	case m.Player2ID != nil && *m.Player2ID == id:
		return copyIntPtr(m.Player1ID)
	}
	return nil
}

// Players returns the ids of the filled slots.
func (m *Match) Players() []int {
	players := make([]int, 0, 2)
	if m.Player1ID != nil {
		players = append(players, *m.Player1ID)
	}
	if m.Player2ID != nil {
		players = append(players, *m.Player2ID)
	}
	return players
}

// IsQueueable reports whether the match waits for a table: both competitors known,
// no table bound and not yet finished or being played.
func (m *Match) IsQueueable() bool {
	if !m.HasPlayers() || m.HasTable() {
		return false
	}
	switch m.State {
	case MatchPending, MatchReady, MatchAssigned, MatchPaused:
		return true
	}
	return false
}

// Clone returns a deep copy.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.Player1ID = copyIntPtr(m.Player1ID)
	c.Player2ID = copyIntPtr(m.Player2ID)
	c.TableID = copyIntPtr(m.TableID)
	c.WinnerID = copyIntPtr(m.WinnerID)
	c.StartedAt = copyTimePtr(m.StartedAt)
	c.CompletedAt = copyTimePtr(m.CompletedAt)
	if m.Score != nil {
		c.Score = append(json.RawMessage(nil), m.Score...)
	}
	return &c
}

// Assignment описывает привязку матча к столу, выполненную менеджером столов.
type Assignment struct {
	MatchID      int       `json:"match_id"`
	TableID      int       `json:"table_id"`
	TableLabel   string    `json:"table_label,omitempty"`
	TournamentID int       `json:"tournament_id"`
	Player1ID    *int      `json:"player1_id,omitempty"`
	Player2ID    *int      `json:"player2_id,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// MatchETA хранит оценку ожидания для матча в очереди.
type MatchETA struct {
	MatchID          int           `json:"match_id"`
	QueuePosition    int           `json:"queue_position"`
	EstimatedWait    time.Duration `json:"estimated_wait_ns"`
	EstimatedStartAt *time.Time    `json:"estimated_start_at,omitempty"`
	Known            bool          `json:"known"`
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EliminatesLoser reports whether losing this match knocks the competitor out.
// Losses in a winners bracket or in group stages do not.
func (m *Match) EliminatesLoser() bool {
	switch m.Bracket {
	case "winners", "round_robin", "swiss", "group":
		return false
	}
	return true
}

// Loser returns the competitor that did not win, once a winner is set.
func (m *Match) Loser() *int {
	if m.WinnerID == nil {
		return nil
	}
	return m.Opponent(*m.WinnerID)
}
