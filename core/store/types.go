package store

import "time"

const (
	CheckStatusUp   = "up"
	CheckStatusDown = "down"
)

const (
	IncidentStatusInvestigating = "investigating"
	IncidentStatusIdentified    = "identified"
	IncidentStatusMonitoring    = "monitoring"
	IncidentStatusResolved      = "resolved"
)

const (
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Monitor is one probing target. IDs are assigned by configuration and stay
// stable across reloads so history survives config changes.
type Monitor struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Group       string    `json:"group,omitempty"`
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	IntervalSec int       `json:"interval_sec"`
	TimeoutSec  int       `json:"timeout_sec"`
	Public      bool      `json:"public"`
	Conditions  []string  `json:"conditions,omitempty"`
	QueryName   string    `json:"query_name,omitempty"`
	QueryType   string    `json:"query_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Check struct {
	ID             int64     `json:"id"`
	MonitorID      int64     `json:"monitor_id"`
	Status         string    `json:"status"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

type Incident struct {
	ID          int64      `json:"id"`
	MonitorID   int64      `json:"monitor_id"`
	Status      string     `json:"status"`
	Severity    string     `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// MaintenanceWindow is a fixed window persisted in the store. A nil MonitorID
// means the window applies to every monitor.
type MaintenanceWindow struct {
	ID          int64     `json:"id"`
	MonitorID   *int64    `json:"monitor_id,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Timezone    string    `json:"timezone,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusDay is one finalized (or in-progress for today) daily rollup row.
type StatusDay struct {
	MonitorID         int64     `json:"monitor_id"`
	Date              string    `json:"date"`
	UptimePct         float64   `json:"uptime_pct"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	TotalChecks       int       `json:"total_checks"`
	SuccessfulChecks  int       `json:"successful_checks"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResponseTimeBucket aggregates successful checks into one hour or day slot.
type ResponseTimeBucket struct {
	Bucket time.Time `json:"bucket"`
	AvgMs  float64   `json:"avg_ms"`
	MinMs  int       `json:"min_ms"`
	MaxMs  int       `json:"max_ms"`
	Count  int       `json:"count"`
}

type IncidentFilter struct {
	MonitorID  int64
	ActiveOnly bool
	Limit      int
}

const (
	JobStateWaiting   = "waiting"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// RepeatingJob is the durable schedule entry for one monitor: each time
// NextRunAt passes, the dispatcher materializes a Job instance and advances
// NextRunAt by EveryMs.
type RepeatingJob struct {
	Key       string    `json:"key"`
	MonitorID int64     `json:"monitor_id"`
	EveryMs   int64     `json:"every_ms"`
	NextRunAt time.Time `json:"next_run_at"`
}

// Job is one materialized check execution. Instances are independent, so a
// slow check may overlap the next interval's instance for the same monitor.
type Job struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	MonitorID   int64      `json:"monitor_id"`
	State       string     `json:"state"`
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ClaimID     string     `json:"claim_id,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
