package services

import (
	"context"
	"log/slog"

	"github.com/Dosada05/tournament-dispatch/metrics"
	"github.com/Dosada05/tournament-dispatch/models"
)

// NotificationPort delivers realtime messages to tournament rooms and single users.
type NotificationPort interface {
	EmitToTournament(ctx context.Context, tournamentID int, n models.Notification) error
	EmitToUser(ctx context.Context, userID, tournamentID int, n models.Notification) error
}

// notifier wraps a NotificationPort. Delivery failures are logged and never returned.
type notifier struct {
	port    NotificationPort
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newNotifier(port NotificationPort, m *metrics.Metrics, logger *slog.Logger) *notifier {
	return &notifier{port: port, metrics: m, logger: logger}
}

func (n *notifier) toTournament(ctx context.Context, tournamentID int, msg models.Notification) {
	if n == nil || n.port == nil {
		return
	}
	if err := n.port.EmitToTournament(ctx, tournamentID, msg); err != nil {
		n.metrics.RecordNotificationFailure(string(msg.Kind()))
		n.logger.WarnContext(ctx, "failed to emit tournament notification",
			slog.Int("tournament_id", tournamentID),
			slog.String("type", string(msg.Kind())),
			slog.Any("error", err))
	}
}

func (n *notifier) toUser(ctx context.Context, userID, tournamentID int, msg models.Notification) {
	if n == nil || n.port == nil {
		return
	}
	if err := n.port.EmitToUser(ctx, userID, tournamentID, msg); err != nil {
		n.metrics.RecordNotificationFailure(string(msg.Kind()))
		n.logger.WarnContext(ctx, "failed to emit user notification",
			slog.Int("user_id", userID),
			slog.Int("tournament_id", tournamentID),
			slog.String("type", string(msg.Kind())),
			slog.Any("error", err))
	}
}

// toPlayers sends msg to every filled slot of the match.
func (n *notifier) toPlayers(ctx context.Context, m *models.Match, msg models.Notification) {
	for _, playerID := range m.Players() {
		n.toUser(ctx, playerID, m.TournamentID, msg)
	}
}

func (n *notifier) assignment(ctx context.Context, a models.Assignment) {
	msg := models.MatchAssignedNotification{
		MatchID:    a.MatchID,
		TableID:    a.TableID,
		TableLabel: a.TableLabel,
		Player1ID:  a.Player1ID,
		Player2ID:  a.Player2ID,
	}
	n.toTournament(ctx, a.TournamentID, msg)
	for _, p := range []*int{a.Player1ID, a.Player2ID} {
		if p != nil {
			n.toUser(ctx, *p, a.TournamentID, msg)
		}
	}
}
