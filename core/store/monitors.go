package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const monitorUpsertSQL = `
	INSERT INTO monitors(id, name, grp, type, url, interval_sec, timeout_sec, public, conditions_json, query_name, query_type, created_at, updated_at)
	VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
		name=excluded.name, grp=excluded.grp, type=excluded.type, url=excluded.url,
		interval_sec=excluded.interval_sec, timeout_sec=excluded.timeout_sec, public=excluded.public,
		conditions_json=excluded.conditions_json, query_name=excluded.query_name, query_type=excluded.query_type,
		updated_at=excluded.updated_at`

func monitorUpsertArgs(m *Monitor) []any {
	return []any{
		m.ID, strings.TrimSpace(m.Name), strings.TrimSpace(m.Group), strings.ToLower(strings.TrimSpace(m.Type)),
		strings.TrimSpace(m.URL), m.IntervalSec, m.TimeoutSec, boolToInt(m.Public), conditionsToJSON(m.Conditions),
		strings.TrimSpace(m.QueryName), strings.ToUpper(strings.TrimSpace(m.QueryType)), m.CreatedAt, m.UpdatedAt,
	}
}

func (s *dbStore) UpsertMonitor(ctx context.Context, m *Monitor) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := s.exec(ctx, monitorUpsertSQL, monitorUpsertArgs(m)...)
	return err
}

func (s *dbStore) DeleteMonitor(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM monitors WHERE id=?`, id)
	return err
}

func (s *dbStore) GetMonitor(ctx context.Context, id int64) (*Monitor, error) {
	row := s.queryRow(ctx, `
		SELECT id, name, grp, type, url, interval_sec, timeout_sec, public, conditions_json, query_name, query_type, created_at, updated_at
		FROM monitors WHERE id=?`, id)
	return scanMonitor(row)
}

func (s *dbStore) ListMonitors(ctx context.Context) ([]Monitor, error) {
	rows, err := s.query(ctx, `
		SELECT id, name, grp, type, url, interval_sec, timeout_sec, public, conditions_json, query_name, query_type, created_at, updated_at
		FROM monitors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		if m != nil {
			res = append(res, *m)
		}
	}
	return res, rows.Err()
}

// SyncMonitors applies one config reload in a single transaction. Monitors in
// the list are upserted, monitors absent from it are deleted together with
// their cascaded rows and any waiting queue jobs, and fixed maintenance
// windows are replaced wholesale.
func (s *dbStore) SyncMonitors(ctx context.Context, monitors []Monitor, windows []MaintenanceWindow) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range monitors {
		m := &monitors[i]
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, s.q(monitorUpsertSQL), monitorUpsertArgs(m)...); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	query := `SELECT id FROM monitors`
	var keep []any
	if len(monitors) > 0 {
		keep = make([]any, 0, len(monitors))
		for _, m := range monitors {
			keep = append(keep, m.ID)
		}
		query += ` WHERE id NOT IN (` + placeholders(len(keep)) + `)`
	}
	rows, err := tx.QueryContext(ctx, s.q(query), keep...)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var removed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, err
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback()
		return nil, err
	}
	rows.Close()

	for _, id := range removed {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM monitors WHERE id=?`), id); err != nil {
			tx.Rollback()
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM queue_jobs WHERE monitor_id=? AND state=?`), id, JobStateWaiting); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM maintenance_windows`); err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range windows {
		w := &windows[i]
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO maintenance_windows(monitor_id, start_time, end_time, timezone, description, created_at)
			VALUES(?,?,?,?,?,?)`),
			nullableID(w.MonitorID), w.StartTime.UTC(), w.EndTime.UTC(), strings.TrimSpace(w.Timezone),
			strings.TrimSpace(w.Description), w.CreatedAt); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func scanMonitor(row interface {
	Scan(dest ...any) error
}) (*Monitor, error) {
	var m Monitor
	var conditionsRaw string
	var public int
	if err := row.Scan(
		&m.ID, &m.Name, &m.Group, &m.Type, &m.URL, &m.IntervalSec, &m.TimeoutSec, &public,
		&conditionsRaw, &m.QueryName, &m.QueryType, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.Public = public == 1
	if conditionsRaw != "" {
		_ = json.Unmarshal([]byte(conditionsRaw), &m.Conditions)
	}
	return &m, nil
}
