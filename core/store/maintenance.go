package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ActiveMaintenanceWindow returns the first stored fixed window covering now
// for the monitor. Windows with a NULL monitor_id are global and match every
// monitor.
func (s *dbStore) ActiveMaintenanceWindow(ctx context.Context, monitorID int64, now time.Time) (*MaintenanceWindow, error) {
	at := now.UTC()
	row := s.queryRow(ctx, `
		SELECT id, monitor_id, start_time, end_time, timezone, description, created_at
		FROM maintenance_windows
		WHERE start_time<=? AND end_time>=? AND (monitor_id=? OR monitor_id IS NULL)
		ORDER BY id LIMIT 1`, at, at, monitorID)
	return scanMaintenanceWindow(row)
}

func (s *dbStore) ListMaintenanceWindows(ctx context.Context, monitorID int64) ([]MaintenanceWindow, error) {
	query := `
		SELECT id, monitor_id, start_time, end_time, timezone, description, created_at
		FROM maintenance_windows`
	var args []any
	if monitorID > 0 {
		query += ` WHERE monitor_id=? OR monitor_id IS NULL`
		args = append(args, monitorID)
	}
	query += ` ORDER BY start_time, id`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []MaintenanceWindow
	for rows.Next() {
		w, err := scanMaintenanceWindow(rows)
		if err != nil {
			return nil, err
		}
		if w != nil {
			res = append(res, *w)
		}
	}
	return res, rows.Err()
}

func scanMaintenanceWindow(row interface {
	Scan(dest ...any) error
}) (*MaintenanceWindow, error) {
	var w MaintenanceWindow
	var monitorID sql.NullInt64
	if err := row.Scan(&w.ID, &monitorID, &w.StartTime, &w.EndTime, &w.Timezone,
		&w.Description, &w.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if monitorID.Valid {
		w.MonitorID = &monitorID.Int64
	}
	return &w, nil
}
