package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/tournament-dispatch/repositories"
	"github.com/Dosada05/tournament-dispatch/storage"
)

const auditContentType = "application/x-ndjson"

// AuditService exports the append-only event log of a tournament to object storage.
type AuditService interface {
	ArchiveTournament(ctx context.Context, tournamentID int) (*storage.UploadResult, error)
}

type auditService struct {
	store   repositories.Store
	archive storage.ArchiveStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewAuditService(store repositories.Store, archive storage.ArchiveStore, logger *slog.Logger, now func() time.Time) AuditService {
	if now == nil {
		now = time.Now
	}
	return &auditService{
		store:   store,
		archive: archive,
		logger:  logger.With("component", "audit"),
		now:     now,
	}
}

func auditKey(tournamentID int, at time.Time) string {
	return fmt.Sprintf("audit/tournament_%d/%s.ndjson", tournamentID, at.UTC().Format("20060102T150405Z"))
}

// ArchiveTournament writes every event of the tournament as one JSON object per line.
func (s *auditService) ArchiveTournament(ctx context.Context, tournamentID int) (*storage.UploadResult, error) {
	events, err := s.store.Events().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of tournament %d: %w", tournamentID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}
	}

	key := auditKey(tournamentID, s.now())
	res, err := s.archive.Put(ctx, key, auditContentType, &buf)
	if err != nil {
		return nil, &TransientError{Op: "archive audit log", Err: err}
	}
	s.logger.InfoContext(ctx, "audit log archived",
		slog.Int("tournament_id", tournamentID),
		slog.Int("events", len(events)),
		slog.String("key", res.Key))
	return res, nil
}
