package monitoring

import (
	"sort"
	"sync"
	"time"
)

// MaintenanceJobSummary is the recorded state of one background job.
type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	TotalRuns           uint64        `json:"total_runs"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
}

type maintenanceStats struct {
	mu                  sync.Mutex
	lastStatus          string
	lastRunAt           time.Time
	lastDuration        time.Duration
	lastError           string
	totalRuns           uint64
	consecutiveFailures uint64
}

func (s *maintenanceStats) record(duration time.Duration, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRuns++
	s.lastRunAt = now
	s.lastDuration = duration
	if err != nil {
		s.lastStatus = "failure"
		s.lastError = err.Error()
		s.consecutiveFailures++
		return
	}
	s.lastStatus = "success"
	s.lastError = ""
	s.consecutiveFailures = 0
}

func (s *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          s.lastStatus,
		LastRunAt:           s.lastRunAt,
		LastDuration:        s.lastDuration,
		LastError:           s.lastError,
		TotalRuns:           s.totalRuns,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}

var maintenanceJobs sync.Map // string -> *maintenanceStats

// RecordMaintenanceRun stores the outcome of one background job execution so
// the maintenance readiness probe can flag stale or failing jobs.
func RecordMaintenanceRun(job string, duration time.Duration, err error) {
	if job == "" {
		return
	}
	value, _ := maintenanceJobs.LoadOrStore(job, &maintenanceStats{})
	value.(*maintenanceStats).record(duration, err, time.Now())
}

// MaintenanceSnapshot lists the recorded state of every registered job,
// ordered by job name for stable output.
func MaintenanceSnapshot() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	maintenanceJobs.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Job < summaries[j].Job })
	return summaries
}

// ResetMaintenanceState clears recorded job outcomes. Intended for tests.
func ResetMaintenanceState() {
	maintenanceJobs.Range(func(key, _ any) bool {
		maintenanceJobs.Delete(key)
		return true
	})
}
