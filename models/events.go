package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type LifecycleEventKind string

const (
	EventMatchTransitioned LifecycleEventKind = "match.transitioned"
	EventMatchForfeited    LifecycleEventKind = "match.forfeited"
	EventScoreUpdated      LifecycleEventKind = "match.score_updated"
	EventTableAssigned     LifecycleEventKind = "table.assigned"
	EventTableReleased     LifecycleEventKind = "table.released"
)

// LifecyclePayload is implemented by every audit event body.
type LifecyclePayload interface {
	lifecycleKind() LifecycleEventKind
}

type TransitionPayload struct {
	From        MatchState `json:"from"`
	To          MatchState `json:"to"`
	TableID     *int       `json:"table_id,omitempty"`
	WinnerID    *int       `json:"winner_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ForfeitPayload struct {
	From        MatchState `json:"from"`
	ForfeitedBy int        `json:"forfeited_by"`
	WinnerID    int        `json:"winner_id"`
	TableID     *int       `json:"table_id,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

type ScorePayload struct {
	Previous json.RawMessage `json:"previous,omitempty"`
	Current  json.RawMessage `json:"current"`
}

type TableAssignedPayload struct {
	TableID    int        `json:"table_id"`
	TableLabel string     `json:"table_label,omitempty"`
	State      MatchState `json:"state"`
}

type TableReleasedPayload struct {
	TableID int    `json:"table_id"`
	Reason  string `json:"reason"`
}

func (TransitionPayload) lifecycleKind() LifecycleEventKind    { return EventMatchTransitioned }
func (ForfeitPayload) lifecycleKind() LifecycleEventKind       { return EventMatchForfeited }
func (ScorePayload) lifecycleKind() LifecycleEventKind         { return EventScoreUpdated }
func (TableAssignedPayload) lifecycleKind() LifecycleEventKind { return EventTableAssigned }
func (TableReleasedPayload) lifecycleKind() LifecycleEventKind { return EventTableReleased }

// LifecycleEvent представляет неизменяемую запись аудита по матчу.
type LifecycleEvent struct {
	ID           uuid.UUID          `json:"id"`
	TournamentID int                `json:"tournament_id"`
	MatchID      int                `json:"match_id"`
	Kind         LifecycleEventKind `json:"kind"`
	Actor        string             `json:"actor"`
	Device       string             `json:"device,omitempty"`
	Revision     int64              `json:"revision"`
	OccurredAt   time.Time          `json:"occurred_at"`
	Payload      LifecyclePayload   `json:"payload"`
}

// NewLifecycleEvent stamps a new event for m at its current revision.
func NewLifecycleEvent(m *Match, actor, device string, at time.Time, payload LifecyclePayload) LifecycleEvent {
	return LifecycleEvent{
		ID:           uuid.New(),
		TournamentID: m.TournamentID,
		MatchID:      m.ID,
		Kind:         payload.lifecycleKind(),
		Actor:        actor,
		Device:       device,
		Revision:     m.Revision,
		OccurredAt:   at,
		Payload:      payload,
	}
}

// DecodeLifecyclePayload restores a typed payload from its stored form.
func DecodeLifecyclePayload(kind LifecycleEventKind, data []byte) (LifecyclePayload, error) {
	var (
		payload LifecyclePayload
		err     error
	)
	switch kind {
	case EventMatchTransitioned:
		var p TransitionPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventMatchForfeited:
		var p ForfeitPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventScoreUpdated:
		var p ScorePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTableAssigned:
		var p TableAssignedPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTableReleased:
		var p TableReleasedPayload
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown lifecycle event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return payload, nil
}

func (e *LifecycleEvent) UnmarshalJSON(data []byte) error {
	type alias LifecycleEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodeLifecyclePayload(e.Kind, aux.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}
