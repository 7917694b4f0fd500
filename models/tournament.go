package models

import "time"

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	StatusSoon         TournamentStatus = "soon"
	StatusRegistration TournamentStatus = "registration"
	StatusActive       TournamentStatus = "active"
	StatusCompleted    TournamentStatus = "completed"
	StatusCanceled     TournamentStatus = "canceled"
)

// ParseTournamentStatus accepts the stored values plus the "cancelled" spelling.
func ParseTournamentStatus(s string) (TournamentStatus, bool) {
	switch TournamentStatus(s) {
	case StatusSoon, StatusRegistration, StatusActive, StatusCompleted, StatusCanceled:
		return TournamentStatus(s), true
	}
	if s == "cancelled" {
		return StatusCanceled, true
	}
	return "", false
}

func (s TournamentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Tournament представляет турнир. Владелец (OrganizerID) является тенантом
// для всех столов и матчей турнира.
type Tournament struct {
	ID              int              `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	OrganizerID     int              `json:"organizer_id" db:"organizer_id"`
	Status          TournamentStatus `json:"status" db:"status"`
	PairingStrategy string           `json:"pairing_strategy,omitempty" db:"pairing_strategy"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

func (t *Tournament) Clone() *Tournament {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
