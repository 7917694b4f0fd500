package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная). Также для чужого тенанта.
	ErrNotFound = errors.New("requested resource not found")

	ErrValidationFailed   = errors.New("validation failed")
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	ErrRevisionConflict   = errors.New("match was modified concurrently, reload and retry")
	ErrTableLabelConflict = errors.New("table label already exists in this tournament")
	ErrTableOccupied      = errors.New("table is occupied by a live match")

	ErrTournamentFinished                = errors.New("tournament is already finished")
	ErrTournamentInvalidStatus           = errors.New("invalid tournament status provided")
	ErrTournamentInvalidStatusTransition = errors.New("invalid tournament status transition")
	ErrSchedulerNotRunning               = errors.New("scheduler is not running for this tournament")
)

// GuardViolation is returned when a lifecycle transition is illegal or its guard fails.
type GuardViolation struct {
	MatchID int
	From    models.MatchState
	To      models.MatchState
	Reason  string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("match %d: cannot transition %s -> %s: %s", e.MatchID, e.From, e.To, e.Reason)
}

type ConflictKind string

const (
	ConflictDoubleBooking ConflictKind = "double_booking"
	ConflictMaintenance   ConflictKind = "maintenance"
	ConflictBlocked       ConflictKind = "blocked"
)

// ConflictError is returned when a table cannot take a match.
type ConflictError struct {
	Kind    ConflictKind
	TableID int
	MatchID int
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("table %d conflict (%s) for match %d: %s", e.TableID, e.Kind, e.MatchID, e.Reason)
}

// TransientError wraps infrastructure failures that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsGuardViolation(err error) bool {
	var gv *GuardViolation
	return errors.As(err, &gv)
}

func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// mapRepositoryError translates repository sentinels to service errors.
func mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchNotFound),
		errors.Is(err, repositories.ErrTableNotFound),
		errors.Is(err, repositories.ErrTournamentNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repositories.ErrRevisionConflict):
		return fmt.Errorf("%w: %w", ErrRevisionConflict, err)
	case errors.Is(err, repositories.ErrTableLabelConflict):
		return fmt.Errorf("%w: %w", ErrTableLabelConflict, err)
	case errors.Is(err, repositories.ErrTableReferenced):
		return fmt.Errorf("%w: %w", ErrTableOccupied, err)
	}
	return err
}
