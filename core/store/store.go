package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrConflict reports a write that lost to a concurrent writer, such as
// opening a second active incident for a monitor that already has one.
var ErrConflict = errors.New("conflict")

type Store interface {
	UpsertMonitor(ctx context.Context, m *Monitor) error
	DeleteMonitor(ctx context.Context, id int64) error
	GetMonitor(ctx context.Context, id int64) (*Monitor, error)
	ListMonitors(ctx context.Context) ([]Monitor, error)
	// SyncMonitors applies one reload in a single transaction: upsert every
	// given monitor, delete monitors absent from the list together with their
	// checks and incidents, and replace fixed maintenance windows wholesale.
	// It returns the ids of removed monitors.
	SyncMonitors(ctx context.Context, monitors []Monitor, windows []MaintenanceWindow) ([]int64, error)

	SaveCheck(ctx context.Context, c *Check) (int64, error)
	SaveChecks(ctx context.Context, checks []Check) error
	RecentChecks(ctx context.Context, monitorID int64, limit int) ([]Check, error)
	LatestCheck(ctx context.Context, monitorID int64) (*Check, error)
	UptimePct(ctx context.Context, monitorID int64, since time.Time) (float64, error)
	AvgResponseTime(ctx context.Context, monitorID int64, since time.Time) (float64, error)
	ResponseTimeHistory(ctx context.Context, monitorID int64, since time.Time, granularity string) ([]ResponseTimeBucket, error)
	StateTransitions(ctx context.Context, monitorID int64, since time.Time) (int, error)
	LatestCheckByMonitor(ctx context.Context, ids []int64) (map[int64]Check, error)
	UptimePctByMonitor(ctx context.Context, ids []int64, since time.Time) (map[int64]float64, error)
	AvgResponseTimeByMonitor(ctx context.Context, ids []int64, since time.Time) (map[int64]float64, error)
	DeleteChecksBefore(ctx context.Context, before time.Time) (int64, error)

	OpenIncident(ctx context.Context, inc *Incident) (int64, error)
	ActiveIncident(ctx context.Context, monitorID int64) (*Incident, error)
	ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)

	ActiveMaintenanceWindow(ctx context.Context, monitorID int64, now time.Time) (*MaintenanceWindow, error)
	ListMaintenanceWindows(ctx context.Context, monitorID int64) ([]MaintenanceWindow, error)

	UpsertStatusDay(ctx context.Context, day *StatusDay) error
	StatusDays(ctx context.Context, monitorID int64, since string) ([]StatusDay, error)
	DaysWithChecks(ctx context.Context, monitorID int64, since time.Time) ([]string, error)
	AggregateChecksDay(ctx context.Context, monitorID int64, date string) (*StatusDay, error)
	DeleteStatusDaysBefore(ctx context.Context, date string) (int64, error)
}

type dbStore struct {
	db     *sql.DB
	flavor string
}

func New(db *sql.DB, driver string) Store {
	return &dbStore{db: db, flavor: flavorFor(driver)}
}

const (
	flavorSQLite   = "sqlite"
	flavorPostgres = "postgres"
)

func flavorFor(driver string) string {
	if driver == "pgx" || driver == "postgres" {
		return flavorPostgres
	}
	return flavorSQLite
}

// q rewrites ? placeholders to $N for postgres. Queries are written with ?
// throughout; sqlite takes them as-is.
func (s *dbStore) q(query string) string {
	if s.flavor != flavorPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (s *dbStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.q(query), args...)
}

func (s *dbStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.q(query), args...)
}

func (s *dbStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.q(query), args...)
}
