package models

import (
	"encoding/json"
	"time"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultErrorThreshold = 10
)

// SchedulingConfig задаёт параметры цикла планировщика турнира.
type SchedulingConfig struct {
	PollInterval                time.Duration `json:"-"`
	AutoAssign                  bool          `json:"auto_assign"`
	OptimizeAssignments         bool          `json:"optimize_assignments"`
	EnableRealtimeNotifications bool          `json:"enable_realtime_notifications"`
}

func DefaultSchedulingConfig() SchedulingConfig {
	return SchedulingConfig{
		PollInterval:                DefaultPollInterval,
		AutoAssign:                  true,
		OptimizeAssignments:         false,
		EnableRealtimeNotifications: true,
	}
}

type schedulingConfigJSON struct {
	PollIntervalMs              *int64 `json:"poll_interval_ms,omitempty"`
	AutoAssign                  *bool  `json:"auto_assign,omitempty"`
	OptimizeAssignments         *bool  `json:"optimize_assignments,omitempty"`
	EnableRealtimeNotifications *bool  `json:"enable_realtime_notifications,omitempty"`
}

// UnmarshalJSON fills omitted fields with defaults.
func (c *SchedulingConfig) UnmarshalJSON(data []byte) error {
	var raw schedulingConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = DefaultSchedulingConfig()
	if raw.PollIntervalMs != nil {
		c.PollInterval = time.Duration(*raw.PollIntervalMs) * time.Millisecond
	}
	if raw.AutoAssign != nil {
		c.AutoAssign = *raw.AutoAssign
	}
	if raw.OptimizeAssignments != nil {
		c.OptimizeAssignments = *raw.OptimizeAssignments
	}
	if raw.EnableRealtimeNotifications != nil {
		c.EnableRealtimeNotifications = *raw.EnableRealtimeNotifications
	}
	return nil
}

func (c SchedulingConfig) MarshalJSON() ([]byte, error) {
	ms := c.PollInterval.Milliseconds()
	return json.Marshal(schedulingConfigJSON{
		PollIntervalMs:              &ms,
		AutoAssign:                  &c.AutoAssign,
		OptimizeAssignments:         &c.OptimizeAssignments,
		EnableRealtimeNotifications: &c.EnableRealtimeNotifications,
	})
}

// SchedulerStats хранит накопленную статистику контроллера турнира.
type SchedulerStats struct {
	TournamentID     int              `json:"tournament_id"`
	Running          bool             `json:"running"`
	Config           SchedulingConfig `json:"config"`
	TotalCycles      int64            `json:"total_cycles"`
	TotalAssignments int64            `json:"total_assignments"`
	AverageCycleMs   float64          `json:"average_cycle_ms"`
	Errors           int              `json:"errors"`
	SkippedCycles    int64            `json:"skipped_cycles"`
	LastRunAt        *time.Time       `json:"last_run_at,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	StoppedAt        *time.Time       `json:"stopped_at,omitempty"`
	StoppedReason    string           `json:"stopped_reason,omitempty"`
}

// RecordCycle folds one successful cycle into the rolling averages.
func (s *SchedulerStats) RecordCycle(elapsed time.Duration, assignments int, at time.Time) {
	s.TotalCycles++
	s.TotalAssignments += int64(assignments)
	ms := float64(elapsed) / float64(time.Millisecond)
	n := float64(s.TotalCycles)
	s.AverageCycleMs = (s.AverageCycleMs*(n-1) + ms) / n
	t := at
	s.LastRunAt = &t
}

// QueueStatus описывает снимок очереди турнира.
type QueueStatus struct {
	TournamentID    int       `json:"tournament_id"`
	AvailableTables []*Table  `json:"available_tables"`
	ReadyMatches    []*Match  `json:"ready_matches"`
	ActiveMatches   int       `json:"active_matches"`
	PendingMatches  int       `json:"pending_matches"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// CycleResult is returned by a manually triggered cycle.
type CycleResult struct {
	TournamentID int          `json:"tournament_id"`
	Assignments  []Assignment `json:"assignments"`
	Queue        *QueueStatus `json:"queue"`
	ETAs         []MatchETA   `json:"etas"`
	Duration     float64      `json:"duration_ms"`
}
