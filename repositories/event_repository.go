package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dosada05/tournament-dispatch/models"
)

type postgresEventRepository struct {
	exec SQLExecutor
}

func (r *postgresEventRepository) Append(ctx context.Context, event *models.LifecycleEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event.Kind, err)
	}

	query := `
		INSERT INTO match_events (id, tournament_id, match_id, kind, actor, device, revision, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.exec.ExecContext(ctx, query,
		event.ID,
		event.TournamentID,
		event.MatchID,
		event.Kind,
		event.Actor,
		event.Device,
		event.Revision,
		event.OccurredAt,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event for match %d: %w", event.MatchID, err)
	}
	return nil
}

func (r *postgresEventRepository) ListByMatch(ctx context.Context, matchID int) ([]*models.LifecycleEvent, error) {
	return r.list(ctx, `WHERE match_id = $1`, matchID)
}

func (r *postgresEventRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.LifecycleEvent, error) {
	return r.list(ctx, `WHERE tournament_id = $1`, tournamentID)
}

func (r *postgresEventRepository) list(ctx context.Context, where string, id int) ([]*models.LifecycleEvent, error) {
	query := `
		SELECT id, tournament_id, match_id, kind, actor, device, revision, occurred_at, payload
		FROM match_events ` + where + `
		ORDER BY occurred_at ASC, revision ASC`

	rows, err := r.exec.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query match events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.LifecycleEvent, 0)
	for rows.Next() {
		var (
			event   models.LifecycleEvent
			payload []byte
		)
		if scanErr := rows.Scan(
			&event.ID,
			&event.TournamentID,
			&event.MatchID,
			&event.Kind,
			&event.Actor,
			&event.Device,
			&event.Revision,
			&event.OccurredAt,
			&payload,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match event row: %w", scanErr)
		}
		event.Payload, err = models.DecodeLifecyclePayload(event.Kind, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match event rows: %w", err)
	}
	return events, nil
}
