package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/tournament-dispatch/metrics"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

const (
	stopReasonManual   = "stopped"
	stopReasonFinished = "tournament finished"
	stopReasonShutdown = "shutdown"
	stopReasonBreaker  = "circuit breaker open"
)

// errTournamentClosed ends a loop whose tournament is gone or finished.
var errTournamentClosed = errors.New("tournament is not schedulable")

type SchedulerService interface {
	// StartSchedulingLoop (re)starts the loop. A nil cfg uses the service defaults.
	StartSchedulingLoop(ctx context.Context, tournamentID int, cfg *models.SchedulingConfig) error
	StopSchedulingLoop(ctx context.Context, tournamentID int) error
	TriggerSchedulingCycle(ctx context.Context, tournamentID int) (*models.CycleResult, error)
	AssignManually(ctx context.Context, p models.Principal, matchID, tableID int) (*models.Assignment, error)
	OnMatchCompleted(ctx context.Context, tournamentID, matchID, tableID int) (*models.Assignment, error)
	OnTournamentStatusChanged(ctx context.Context, tournamentID int, status models.TournamentStatus) error
	GetSchedulerStats(tournamentID int) (*models.SchedulerStats, bool)
	IsSchedulerRunning(tournamentID int) bool
	GetActiveSchedulers() []int
	GetETAs(tournamentID int) []models.MatchETA
	StopAllSchedulers(ctx context.Context) error
}

type SchedulerOptions struct {
	Defaults       models.SchedulingConfig
	ErrorThreshold int
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type schedulerService struct {
	store    repositories.Store
	tables   TableService
	queue    QueueService
	registry *SchedulerRegistry
	notify   *notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	defaults       models.SchedulingConfig
	errorThreshold int
	now            func() time.Time
}

func NewSchedulerService(
	store repositories.Store,
	tables TableService,
	queue QueueService,
	registry *SchedulerRegistry,
	port NotificationPort,
	logger *slog.Logger,
	opts SchedulerOptions,
) SchedulerService {
	if opts.Defaults.PollInterval <= 0 {
		opts.Defaults = models.DefaultSchedulingConfig()
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = models.DefaultErrorThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With("component", "scheduler")
	return &schedulerService{
		store:          store,
		tables:         tables,
		queue:          queue,
		registry:       registry,
		notify:         newNotifier(port, opts.Metrics, logger),
		metrics:        opts.Metrics,
		logger:         logger,
		defaults:       opts.Defaults,
		errorThreshold: opts.ErrorThreshold,
		now:            opts.Now,
	}
}

func (s *schedulerService) StartSchedulingLoop(ctx context.Context, tournamentID int, cfg *models.SchedulingConfig) error {
	conf := s.defaults
	if cfg != nil {
		conf = *cfg
	}
	if conf.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrValidationFailed)
	}

	c := newController(tournamentID, conf)
	if old := s.registry.register(c, s.now()); old != nil {
		old.stop()
		s.waitDone(ctx, old)
	}
	s.metrics.SetActiveSchedulers(len(s.registry.running()))

	go s.run(c)

	s.logger.InfoContext(ctx, "scheduling loop started",
		slog.Int("tournament_id", tournamentID),
		slog.Duration("poll_interval", conf.PollInterval),
		slog.Bool("auto_assign", conf.AutoAssign),
		slog.Bool("optimize", conf.OptimizeAssignments))
	return nil
}

func (s *schedulerService) waitDone(ctx context.Context, c *controller) {
	select {
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

// halt stops c without waiting. Safe to call from the loop itself.
func (s *schedulerService) halt(c *controller, reason string) bool {
	c.stop()
	if !s.registry.unregister(c, reason, s.now()) {
		return false
	}
	s.metrics.SetActiveSchedulers(len(s.registry.running()))
	s.logger.Info("scheduling loop stopped",
		slog.Int("tournament_id", c.tournamentID),
		slog.String("reason", reason))
	return true
}

func (s *schedulerService) StopSchedulingLoop(ctx context.Context, tournamentID int) error {
	c, ok := s.registry.controller(tournamentID)
	if !ok {
		return fmt.Errorf("%w: tournament %d", ErrSchedulerNotRunning, tournamentID)
	}
	s.halt(c, stopReasonManual)
	s.waitDone(ctx, c)
	return nil
}

func (s *schedulerService) StopAllSchedulers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.registry.controllersSnapshot() {
		c := c
		g.Go(func() error {
			s.halt(c, stopReasonShutdown)
			select {
			case <-c.doneCh:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("scheduler of tournament %d did not stop: %w", c.tournamentID, gctx.Err())
			}
		})
	}
	return g.Wait()
}

func (s *schedulerService) run(c *controller) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	s.tick(c)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.stopped() {
				return
			}
			s.tick(c)
		}
	}
}

// tick runs one timer-driven cycle, skipping it when another cycle of the same
// tournament is still in flight.
func (s *schedulerService) tick(c *controller) {
	lock := s.registry.cycleLock(c.tournamentID)
	if !lock.TryLock() {
		s.registry.updateStats(c, func(st *models.SchedulerStats) { st.SkippedCycles++ })
		s.metrics.RecordCycle(metrics.CycleSkipped, 0)
		s.logger.Debug("cycle skipped, previous cycle still running", slog.Int("tournament_id", c.tournamentID))
		return
	}
	defer lock.Unlock()

	// Cycles run to completion even if the loop is stopped meanwhile.
	ctx := context.Background()
	start := s.now()
	res, err := s.runCycle(ctx, c.tournamentID, c.config, false)
	elapsed := s.now().Sub(start)

	switch {
	case errors.Is(err, errTournamentClosed):
		s.halt(c, stopReasonFinished)
	case err != nil:
		s.metrics.RecordCycle(metrics.CycleError, elapsed)
		s.recordFailure(c, err)
	default:
		s.metrics.RecordCycle(metrics.CycleOK, elapsed)
		s.registry.updateStats(c, func(st *models.SchedulerStats) {
			st.RecordCycle(elapsed, len(res.Assignments), s.now())
		})
	}
}

func (s *schedulerService) recordFailure(c *controller, err error) {
	errCount := 0
	s.registry.updateStats(c, func(st *models.SchedulerStats) {
		st.Errors++
		st.LastError = err.Error()
		errCount = st.Errors
	})
	s.logger.Error("scheduling cycle failed",
		slog.Int("tournament_id", c.tournamentID),
		slog.Int("errors", errCount),
		slog.Any("error", err))

	if errCount > s.errorThreshold {
		if s.halt(c, stopReasonBreaker) {
			s.metrics.RecordBreakerTrip()
			s.logger.Error("circuit breaker opened, scheduling loop stopped",
				slog.Int("tournament_id", c.tournamentID),
				slog.Int("threshold", s.errorThreshold))
		}
	}
}

// runCycle is one pass of the loop. The caller holds the tournament's cycle lock.
func (s *schedulerService) runCycle(ctx context.Context, tournamentID int, cfg models.SchedulingConfig, forced bool) (*models.CycleResult, error) {
	start := s.now()
	tournament, err := s.store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, fmt.Errorf("%w: tournament %d not found", errTournamentClosed, tournamentID)
		}
		return nil, &TransientError{Op: "load tournament", Err: err}
	}
	if tournament.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: tournament %d is %s", errTournamentClosed, tournamentID, tournament.Status)
	}

	if _, err := s.tables.ExpireBlocks(ctx, tournamentID); err != nil {
		return nil, &TransientError{Op: "expire blocks", Err: err}
	}

	status, err := s.queue.GetQueueStatus(ctx, tournamentID)
	if err != nil {
		return nil, &TransientError{Op: "queue status", Err: err}
	}

	var assignments []models.Assignment
	if (cfg.AutoAssign || forced) && len(status.ReadyMatches) > 0 && len(status.AvailableTables) > 0 {
		assignments, err = s.assignQueue(ctx, tournamentID, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.EnableRealtimeNotifications {
			for _, a := range assignments {
				s.notify.assignment(ctx, a)
			}
		}
		if len(assignments) > 0 {
			if status, err = s.queue.GetQueueStatus(ctx, tournamentID); err != nil {
				return nil, &TransientError{Op: "queue status", Err: err}
			}
		}
	}

	etas, err := s.refreshETAs(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	if len(assignments) > 0 && cfg.EnableRealtimeNotifications {
		s.notify.toTournament(ctx, tournamentID, queueUpdated(status, len(assignments), etas))
	}

	s.logger.DebugContext(ctx, "scheduling cycle finished",
		slog.Int("tournament_id", tournamentID),
		slog.Int("assignments", len(assignments)),
		slog.Int("ready", len(status.ReadyMatches)),
		slog.Int("available_tables", len(status.AvailableTables)))

	return &models.CycleResult{
		TournamentID: tournamentID,
		Assignments:  assignments,
		Queue:        status,
		ETAs:         etas,
		Duration:     float64(s.now().Sub(start)) / float64(time.Millisecond),
	}, nil
}

// assignQueue persists proposals one by one. A pairing that lost a race or broke a
// guard is skipped; anything else aborts the cycle.
func (s *schedulerService) assignQueue(ctx context.Context, tournamentID int, cfg models.SchedulingConfig) ([]models.Assignment, error) {
	var (
		proposals []models.Assignment
		err       error
		mode      = metrics.ModeGreedy
	)
	if cfg.OptimizeAssignments {
		mode = metrics.ModeOptimized
		proposals, err = s.queue.OptimizeQueueAssignments(ctx, tournamentID)
	} else {
		proposals, err = s.queue.AutoAssignTables(ctx, tournamentID)
	}
	if err != nil {
		return nil, &TransientError{Op: "propose assignments", Err: err}
	}

	assignments := make([]models.Assignment, 0, len(proposals))
	for _, p := range proposals {
		a, err := s.tables.AssignTable(ctx, models.SystemPrincipal(), p.MatchID, p.TableID)
		if err != nil {
			if skippable(err) {
				s.logger.DebugContext(ctx, "assignment skipped",
					slog.Int("tournament_id", tournamentID),
					slog.Int("match_id", p.MatchID),
					slog.Int("table_id", p.TableID),
					slog.Any("reason", err))
				continue
			}
			return assignments, &TransientError{Op: "assign table", Err: err}
		}
		assignments = append(assignments, *a)
	}
	s.metrics.RecordAssignments(mode, len(assignments))
	return assignments, nil
}

func skippable(err error) bool {
	if IsGuardViolation(err) {
		return true
	}
	if _, ok := IsConflict(err); ok {
		return true
	}
	return errors.Is(err, ErrRevisionConflict) || errors.Is(err, ErrNotFound)
}

func (s *schedulerService) refreshETAs(ctx context.Context, tournamentID int) ([]models.MatchETA, error) {
	etas, err := s.queue.CalculateMatchETAs(ctx, tournamentID)
	if err != nil {
		return nil, &TransientError{Op: "calculate etas", Err: err}
	}
	s.registry.setETAs(tournamentID, etas)
	return etas, nil
}

func queueUpdated(status *models.QueueStatus, assignments int, etas []models.MatchETA) models.QueueUpdatedNotification {
	return models.QueueUpdatedNotification{
		Assignments:     assignments,
		ReadyMatches:    len(status.ReadyMatches),
		AvailableTables: len(status.AvailableTables),
		ActiveMatches:   status.ActiveMatches,
		ETAs:            etas,
	}
}

// config returns the running controller's config, or the defaults.
func (s *schedulerService) config(tournamentID int) models.SchedulingConfig {
	if c, ok := s.registry.controller(tournamentID); ok {
		return c.config
	}
	return s.defaults
}

// TriggerSchedulingCycle runs a cycle now and always assigns, waiting for any
// in-flight cycle to finish first.
func (s *schedulerService) TriggerSchedulingCycle(ctx context.Context, tournamentID int) (*models.CycleResult, error) {
	lock := s.registry.cycleLock(tournamentID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.runCycle(ctx, tournamentID, s.config(tournamentID), true)
	if errors.Is(err, errTournamentClosed) {
		if _, lookupErr := s.store.Tournaments().GetByID(ctx, tournamentID); lookupErr != nil {
			return nil, mapRepositoryError(lookupErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTournamentFinished, err)
	}
	if err != nil {
		return nil, err
	}
	if c, ok := s.registry.controller(tournamentID); ok {
		s.registry.updateStats(c, func(st *models.SchedulerStats) {
			st.RecordCycle(time.Duration(res.Duration*float64(time.Millisecond)), len(res.Assignments), s.now())
		})
	}
	return res, nil
}

func (s *schedulerService) AssignManually(ctx context.Context, p models.Principal, matchID, tableID int) (*models.Assignment, error) {
	a, err := s.tables.AssignTable(ctx, p, matchID, tableID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAssignments(metrics.ModeManual, 1)

	cfg := s.config(a.TournamentID)
	if cfg.EnableRealtimeNotifications {
		s.notify.assignment(ctx, *a)
	}
	s.afterAssignment(ctx, a.TournamentID, cfg, 1)
	return a, nil
}

// afterAssignment refreshes the ETA snapshot and announces the new queue.
func (s *schedulerService) afterAssignment(ctx context.Context, tournamentID int, cfg models.SchedulingConfig, assignments int) {
	etas, err := s.refreshETAs(ctx, tournamentID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to refresh etas", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	if !cfg.EnableRealtimeNotifications {
		return
	}
	status, err := s.queue.GetQueueStatus(ctx, tournamentID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load queue status", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	s.notify.toTournament(ctx, tournamentID, queueUpdated(status, assignments, etas))
}

// OnMatchCompleted makes sure tableID no longer hosts the finished match and hands
// it straight to the head of the queue. It returns nil when nothing could be placed.
func (s *schedulerService) OnMatchCompleted(ctx context.Context, tournamentID, matchID, tableID int) (*models.Assignment, error) {
	lock := s.registry.cycleLock(tournamentID)
	lock.Lock()
	defer lock.Unlock()

	system := models.SystemPrincipal()
	match, err := s.store.Matches().GetByID(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if match.TournamentID != tournamentID {
		return nil, fmt.Errorf("%w: match %d in tournament %d", ErrNotFound, matchID, tournamentID)
	}
	if !match.State.IsTerminal() {
		return nil, nil
	}

	table, err := s.store.Tables().GetByID(ctx, tableID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if table.TournamentID != tournamentID {
		return nil, fmt.Errorf("%w: table %d in tournament %d", ErrNotFound, tableID, tournamentID)
	}
	if table.CurrentMatchID != nil && *table.CurrentMatchID == matchID {
		if table, err = s.tables.ReleaseTable(ctx, system, tableID); err != nil {
			return nil, err
		}
	}

	cfg := s.config(tournamentID)
	if _, err := s.refreshETAs(ctx, tournamentID); err != nil {
		return nil, err
	}
	if !cfg.AutoAssign || !table.IsAvailableAt(s.now()) {
		return nil, nil
	}

	status, err := s.queue.GetQueueStatus(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	for _, next := range status.ReadyMatches {
		a, err := s.tables.AssignTable(ctx, system, next.ID, tableID)
		if err != nil {
			if skippable(err) {
				continue
			}
			return nil, err
		}
		s.metrics.RecordAssignments(metrics.ModeCompletion, 1)
		s.logger.InfoContext(ctx, "freed table reassigned",
			slog.Int("tournament_id", tournamentID),
			slog.Int("table_id", tableID),
			slog.Int("finished_match_id", matchID),
			slog.Int("match_id", a.MatchID))
		if cfg.EnableRealtimeNotifications {
			s.notify.assignment(ctx, *a)
		}
		s.afterAssignment(ctx, tournamentID, cfg, 1)
		return a, nil
	}
	return nil, nil
}

func (s *schedulerService) OnTournamentStatusChanged(ctx context.Context, tournamentID int, status models.TournamentStatus) error {
	switch {
	case status == models.StatusActive:
		if s.IsSchedulerRunning(tournamentID) {
			return nil
		}
		return s.StartSchedulingLoop(ctx, tournamentID, nil)
	case status.IsTerminal():
		if c, ok := s.registry.controller(tournamentID); ok {
			s.halt(c, stopReasonFinished)
		}
	}
	return nil
}

func (s *schedulerService) GetSchedulerStats(tournamentID int) (*models.SchedulerStats, bool) {
	return s.registry.Stats(tournamentID)
}

func (s *schedulerService) IsSchedulerRunning(tournamentID int) bool {
	_, ok := s.registry.controller(tournamentID)
	return ok
}

func (s *schedulerService) GetActiveSchedulers() []int {
	return s.registry.running()
}

func (s *schedulerService) GetETAs(tournamentID int) []models.MatchETA {
	return s.registry.ETAs(tournamentID)
}
