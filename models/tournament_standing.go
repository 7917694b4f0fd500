package models

// Standing хранит текущее положение участника в турнире. Данные только для чтения,
// их ведёт внешний сервис ростера.
type Standing struct {
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	CompetitorID int         `json:"competitor_id" db:"competitor_id"`
	Rank         int         `json:"rank" db:"rank"`
	Seed         int         `json:"seed" db:"seed"`
	Points       int         `json:"points" db:"points"`
	Chips        int64       `json:"chips" db:"chips"`
	HeadToHead   map[int]int `json:"head_to_head,omitempty" db:"head_to_head"` // opponent id -> wins
}

// Standings indexes standings by competitor id.
type Standings map[int]Standing

func NewStandings(list []Standing) Standings {
	s := make(Standings, len(list))
	for _, st := range list {
		s[st.CompetitorID] = st
	}
	return s
}
