package models

import "time"

type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableInUse       TableStatus = "in_use"
	TableMaintenance TableStatus = "maintenance"
)

// Table представляет физический стол (станция), на котором играется матч.
type Table struct {
	ID             int         `json:"id" db:"id"`
	TournamentID   int         `json:"tournament_id" db:"tournament_id"`
	Label          string      `json:"label" db:"label"`
	Status         TableStatus `json:"status" db:"status"`
	BlockedUntil   *time.Time  `json:"blocked_until,omitempty" db:"blocked_until"`
	CurrentMatchID *int        `json:"current_match_id,omitempty" db:"current_match_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// IsBlockedAt reports whether a hold or maintenance window is still in force at now.
func (t *Table) IsBlockedAt(now time.Time) bool {
	return t.BlockedUntil != nil && t.BlockedUntil.After(now)
}

// IsAvailableAt reports whether a match can be placed on the table at now.
func (t *Table) IsAvailableAt(now time.Time) bool {
	return t.Status == TableAvailable && t.CurrentMatchID == nil && !t.IsBlockedAt(now)
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := *t
	c.BlockedUntil = copyTimePtr(t.BlockedUntil)
	c.CurrentMatchID = copyIntPtr(t.CurrentMatchID)
	return &c
}

// TableAvailability содержит результат проверки доступности стола.
type TableAvailability struct {
	TableID      int         `json:"table_id"`
	Available    bool        `json:"available"`
	Status       TableStatus `json:"status"`
	Conflict     string      `json:"conflict,omitempty"`
	BlockedUntil *time.Time  `json:"blocked_until,omitempty"`
}
