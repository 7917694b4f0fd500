package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Dosada05/tournament-dispatch/models"
)

type postgresStandingRepository struct {
	exec SQLExecutor
}

func (r *postgresStandingRepository) ListByTournament(ctx context.Context, tournamentID int) ([]models.Standing, error) {
	query := `
		SELECT tournament_id, competitor_id, rank, seed, points, chips, head_to_head
		FROM competitor_standings
		WHERE tournament_id = $1
		ORDER BY rank ASC, competitor_id ASC`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query standings for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	standings := make([]models.Standing, 0)
	for rows.Next() {
		var (
			st  models.Standing
			h2h []byte
		)
		if scanErr := rows.Scan(&st.TournamentID, &st.CompetitorID, &st.Rank, &st.Seed, &st.Points, &st.Chips, &h2h); scanErr != nil {
			return nil, fmt.Errorf("failed to scan standing row for tournament %d: %w", tournamentID, scanErr)
		}
		if st.HeadToHead, err = decodeHeadToHead(h2h); err != nil {
			return nil, fmt.Errorf("competitor %d: %w", st.CompetitorID, err)
		}
		standings = append(standings, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standing rows for tournament %d: %w", tournamentID, err)
	}
	return standings, nil
}

// decodeHeadToHead parses the JSONB object {"<opponent id>": wins}.
func decodeHeadToHead(raw []byte) (map[int]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var byKey map[string]int
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("invalid head_to_head document: %w", err)
	}
	out := make(map[int]int, len(byKey))
	for k, wins := range byKey {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid head_to_head opponent id %q", k)
		}
		out[id] = wins
	}
	return out, nil
}
