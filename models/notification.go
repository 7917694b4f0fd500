package models

import (
	"encoding/json"
	"time"
)

type NotificationKind string

const (
	NotificationMatchAssigned    NotificationKind = "match-assigned"
	NotificationQueueUpdated     NotificationKind = "queue-updated"
	NotificationMatchStarted     NotificationKind = "match-started"
	NotificationMatchCompleted   NotificationKind = "match-completed"
	NotificationScoreAdjusted    NotificationKind = "score-adjusted"
	NotificationPlayerEliminated NotificationKind = "player-eliminated"
)

// Notification is one realtime message. The set of implementations is closed.
type Notification interface {
	Kind() NotificationKind
	notification()
}

type MatchAssignedNotification struct {
	MatchID    int    `json:"match_id"`
	TableID    int    `json:"table_id"`
	TableLabel string `json:"table_label,omitempty"`
	Player1ID  *int   `json:"player1_id,omitempty"`
	Player2ID  *int   `json:"player2_id,omitempty"`
}

type QueueUpdatedNotification struct {
	Assignments     int        `json:"assignments"`
	ReadyMatches    int        `json:"ready_matches"`
	AvailableTables int        `json:"available_tables"`
	ActiveMatches   int        `json:"active_matches"`
	ETAs            []MatchETA `json:"etas,omitempty"`
}

type MatchStartedNotification struct {
	MatchID   int       `json:"match_id"`
	TableID   *int      `json:"table_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type MatchCompletedNotification struct {
	MatchID  int        `json:"match_id"`
	State    MatchState `json:"state"`
	WinnerID *int       `json:"winner_id,omitempty"`
	TableID  *int       `json:"table_id,omitempty"`
}

type ScoreAdjustedNotification struct {
	MatchID  int             `json:"match_id"`
	Score    json.RawMessage `json:"score"`
	Revision int64           `json:"revision"`
}

type PlayerEliminatedNotification struct {
	MatchID  int `json:"match_id"`
	PlayerID int `json:"player_id"`
}

func (MatchAssignedNotification) Kind() NotificationKind    { return NotificationMatchAssigned }
func (QueueUpdatedNotification) Kind() NotificationKind     { return NotificationQueueUpdated }
func (MatchStartedNotification) Kind() NotificationKind     { return NotificationMatchStarted }
func (MatchCompletedNotification) Kind() NotificationKind   { return NotificationMatchCompleted }
func (ScoreAdjustedNotification) Kind() NotificationKind    { return NotificationScoreAdjusted }
func (PlayerEliminatedNotification) Kind() NotificationKind { return NotificationPlayerEliminated }

func (MatchAssignedNotification) notification()    {}
func (QueueUpdatedNotification) notification()     {}
func (MatchStartedNotification) notification()     {}
func (MatchCompletedNotification) notification()   {}
func (ScoreAdjustedNotification) notification()    {}
func (PlayerEliminatedNotification) notification() {}

// NotificationEnvelope is the wire form sent to websocket clients.
type NotificationEnvelope struct {
	Type         NotificationKind `json:"type"`
	TournamentID int              `json:"tournament_id"`
	Timestamp    time.Time        `json:"timestamp"`
	Payload      Notification     `json:"payload"`
}

func NewNotificationEnvelope(tournamentID int, n Notification, at time.Time) NotificationEnvelope {
	return NotificationEnvelope{
		Type:         n.Kind(),
		TournamentID: tournamentID,
		Timestamp:    at,
		Payload:      n,
	}
}
