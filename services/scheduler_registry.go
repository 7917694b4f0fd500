package services

import (
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/tournament-dispatch/models"
)

// controller is the running loop of one tournament.
type controller struct {
	tournamentID int
	config       models.SchedulingConfig
	stopCh       chan struct{}
	doneCh       chan struct{}
	stopOnce     sync.Once
}

func newController(tournamentID int, cfg models.SchedulingConfig) *controller {
	return &controller{
		tournamentID: tournamentID,
		config:       cfg,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (c *controller) stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *controller) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// SchedulerRegistry holds the per-tournament scheduling state shared by the loops
// and the request handlers. Stats and ETA snapshots outlive their controller.
type SchedulerRegistry struct {
	mu          sync.Mutex
	controllers map[int]*controller
	stats       map[int]*models.SchedulerStats
	etas        map[int][]models.MatchETA
	cycleLocks  map[int]*sync.Mutex
}

func NewSchedulerRegistry() *SchedulerRegistry {
	return &SchedulerRegistry{
		controllers: make(map[int]*controller),
		stats:       make(map[int]*models.SchedulerStats),
		etas:        make(map[int][]models.MatchETA),
		cycleLocks:  make(map[int]*sync.Mutex),
	}
}

// cycleLock serializes cycles of one tournament.
func (r *SchedulerRegistry) cycleLock(tournamentID int) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.cycleLocks[tournamentID]
	if !ok {
		l = &sync.Mutex{}
		r.cycleLocks[tournamentID] = l
	}
	return l
}

// register installs c with fresh stats and returns the controller it replaced.
func (r *SchedulerRegistry) register(c *controller, at time.Time) *controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.controllers[c.tournamentID]
	r.controllers[c.tournamentID] = c
	r.stats[c.tournamentID] = &models.SchedulerStats{
		TournamentID: c.tournamentID,
		Running:      true,
		Config:       c.config,
		StartedAt:    at,
	}
	return old
}

// unregister removes c if it is still the current controller and marks its stats stopped.
func (r *SchedulerRegistry) unregister(c *controller, reason string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllers[c.tournamentID] != c {
		return false
	}
	delete(r.controllers, c.tournamentID)
	if st, ok := r.stats[c.tournamentID]; ok {
		st.Running = false
		t := at
		st.StoppedAt = &t
		st.StoppedReason = reason
	}
	return true
}

func (r *SchedulerRegistry) controller(tournamentID int) (*controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[tournamentID]
	return c, ok
}

func (r *SchedulerRegistry) controllersSnapshot() []*controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		list = append(list, c)
	}
	return list
}

func (r *SchedulerRegistry) running() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// updateStats applies fn to the stats of c while c is current.
func (r *SchedulerRegistry) updateStats(c *controller, fn func(*models.SchedulerStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllers[c.tournamentID] != c {
		return
	}
	if st, ok := r.stats[c.tournamentID]; ok {
		fn(st)
	}
}

func (r *SchedulerRegistry) Stats(tournamentID int) (*models.SchedulerStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[tournamentID]
	if !ok {
		return nil, false
	}
	c := *st
	return &c, true
}

func (r *SchedulerRegistry) setETAs(tournamentID int, etas []models.MatchETA) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.etas[tournamentID] = etas
}

func (r *SchedulerRegistry) ETAs(tournamentID int) []models.MatchETA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MatchETA(nil), r.etas[tournamentID]...)
}
