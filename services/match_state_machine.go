package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-dispatch/models"
)

// MatchCommand asks the state machine to move a match to To.
// WinnerID is required for completion, ForfeitedBy for forfeits.
type MatchCommand struct {
	To          models.MatchState `json:"to"`
	WinnerID    *int              `json:"winner_id,omitempty"`
	ForfeitedBy *int              `json:"forfeited_by,omitempty"`
}

type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type TransitionResult struct {
	Match *models.Match
	Event models.LifecycleEvent
}

const (
	reasonUnknownState   = "unknown target state"
	reasonTerminal       = "match is already in a terminal state"
	reasonNoEdge         = "transition is not allowed from the current state"
	reasonNoPlayers      = "both competitors must be known"
	reasonNoTable        = "a table must be assigned"
	reasonNoWinner       = "a winner must be declared"
	reasonWinnerOutsider = "winner is not a participant of this match"
	reasonNoForfeiter    = "forfeiting competitor must be given"
	reasonForfeitOutside = "forfeiting competitor is not a participant of this match"
	reasonScoreInactive  = "score can only change while the match is active"
	reasonBadScore       = "score must be a valid JSON document"
	reasonAssignViaTable = "a match is assigned by assigning it a table"
)

// MatchStateMachine applies guarded lifecycle transitions to matches.
// It is pure apart from the clock; persistence is the caller's job.
type MatchStateMachine struct {
	now func() time.Time
}

func NewMatchStateMachine(now func() time.Time) *MatchStateMachine {
	if now == nil {
		now = time.Now
	}
	return &MatchStateMachine{now: now}
}

// CanTransition evaluates the edge and its guards without touching the match.
func (sm *MatchStateMachine) CanTransition(m *models.Match, cmd MatchCommand) GuardResult {
	if !cmd.To.IsValid() {
		return GuardResult{Reason: reasonUnknownState}
	}
	if m.State.IsTerminal() {
		return GuardResult{Reason: reasonTerminal}
	}
	if !m.State.CanTransitionTo(cmd.To) {
		return GuardResult{Reason: reasonNoEdge}
	}

	switch cmd.To {
	case models.MatchReady:
		if !m.HasPlayers() {
			return GuardResult{Reason: reasonNoPlayers}
		}
	case models.MatchAssigned, models.MatchActive:
		if !m.HasPlayers() {
			return GuardResult{Reason: reasonNoPlayers}
		}
		if !m.HasTable() {
			return GuardResult{Reason: reasonNoTable}
		}
	case models.MatchCompleted:
		if cmd.WinnerID == nil {
			return GuardResult{Reason: reasonNoWinner}
		}
		if !m.IsParticipant(*cmd.WinnerID) {
			return GuardResult{Reason: reasonWinnerOutsider}
		}
	case models.MatchForfeited:
		if cmd.ForfeitedBy == nil {
			return GuardResult{Reason: reasonNoForfeiter}
		}
		if !m.IsParticipant(*cmd.ForfeitedBy) || m.Opponent(*cmd.ForfeitedBy) == nil {
			return GuardResult{Reason: reasonForfeitOutside}
		}
	}
	return GuardResult{Allowed: true}
}

// Transition applies cmd to m in place and returns the audit event.
// On a guard failure m is left untouched and a *GuardViolation is returned.
func (sm *MatchStateMachine) Transition(m *models.Match, cmd MatchCommand, actor, device string) (*TransitionResult, error) {
	if guard := sm.CanTransition(m, cmd); !guard.Allowed {
		return nil, &GuardViolation{MatchID: m.ID, From: m.State, To: cmd.To, Reason: guard.Reason}
	}

	now := sm.now()
	from := m.State

	m.State = cmd.To
	m.Revision++

	switch cmd.To {
	case models.MatchActive:
		if m.StartedAt == nil {
			m.StartedAt = &now
		}
	case models.MatchCompleted:
		winner := *cmd.WinnerID
		m.WinnerID = &winner
	case models.MatchForfeited:
		m.WinnerID = m.Opponent(*cmd.ForfeitedBy)
	}
	if cmd.To.IsTerminal() {
		m.CompletedAt = &now
	}

	var payload models.LifecyclePayload
	if cmd.To == models.MatchForfeited {
		payload = models.ForfeitPayload{
			From:        from,
			ForfeitedBy: *cmd.ForfeitedBy,
			WinnerID:    *m.WinnerID,
			TableID:     m.TableID,
			CompletedAt: now,
		}
	} else {
		payload = models.TransitionPayload{
			From:        from,
			To:          cmd.To,
			TableID:     m.TableID,
			WinnerID:    m.WinnerID,
			StartedAt:   m.StartedAt,
			CompletedAt: m.CompletedAt,
		}
	}

	return &TransitionResult{
		Match: m,
		Event: models.NewLifecycleEvent(m, actor, device, now, payload),
	}, nil
}

// ApplyScore replaces the opaque score document of an active match.
func (sm *MatchStateMachine) ApplyScore(m *models.Match, score json.RawMessage, actor, device string) (models.LifecycleEvent, error) {
	if m.State != models.MatchActive {
		return models.LifecycleEvent{}, &GuardViolation{MatchID: m.ID, From: m.State, To: m.State, Reason: reasonScoreInactive}
	}
	if len(score) == 0 || !json.Valid(score) {
		return models.LifecycleEvent{}, fmt.Errorf("%w: %s", ErrValidationFailed, reasonBadScore)
	}

	previous := m.Score
	m.Score = append(json.RawMessage(nil), score...)
	m.Revision++

	return models.NewLifecycleEvent(m, actor, device, sm.now(), models.ScorePayload{
		Previous: previous,
		Current:  m.Score,
	}), nil
}

// BindTable attaches a table to an already assigned or paused match without a state change.
func (sm *MatchStateMachine) BindTable(m *models.Match, table *models.Table, actor, device string) (models.LifecycleEvent, error) {
	if m.State != models.MatchAssigned && m.State != models.MatchPaused {
		return models.LifecycleEvent{}, &GuardViolation{MatchID: m.ID, From: m.State, To: m.State, Reason: reasonNoEdge}
	}
	id := table.ID
	m.TableID = &id
	m.Revision++

	return models.NewLifecycleEvent(m, actor, device, sm.now(), models.TableAssignedPayload{
		TableID:    table.ID,
		TableLabel: table.Label,
		State:      m.State,
	}), nil
}

// DetachTable removes the table from a match. An active match is paused first.
// A finished match keeps its state; the table id survives only in the
// TableReleased event.
func (sm *MatchStateMachine) DetachTable(m *models.Match, reason, actor, device string) ([]models.LifecycleEvent, error) {
	if m.TableID == nil {
		return nil, nil
	}

	var events []models.LifecycleEvent
	if m.State == models.MatchActive {
		res, err := sm.Transition(m, MatchCommand{To: models.MatchPaused}, actor, device)
		if err != nil {
			return nil, err
		}
		events = append(events, res.Event)
	}

	tableID := *m.TableID
	m.TableID = nil
	m.Revision++
	events = append(events, models.NewLifecycleEvent(m, actor, device, sm.now(), models.TableReleasedPayload{
		TableID: tableID,
		Reason:  reason,
	}))
	return events, nil
}
