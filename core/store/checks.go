package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *dbStore) SaveCheck(ctx context.Context, c *Check) (int64, error) {
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now().UTC()
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO checks(monitor_id, status, response_time_ms, error, checked_at)
		VALUES(?,?,?,?,?)
		RETURNING id`,
		c.MonitorID, c.Status, nullableInt(c.ResponseTimeMs), c.Error, c.CheckedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (s *dbStore) SaveChecks(ctx context.Context, checks []Check) error {
	if len(checks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range checks {
		c := &checks[i]
		if c.CheckedAt.IsZero() {
			c.CheckedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO checks(monitor_id, status, response_time_ms, error, checked_at)
			VALUES(?,?,?,?,?)`),
			c.MonitorID, c.Status, nullableInt(c.ResponseTimeMs), c.Error, c.CheckedAt.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *dbStore) RecentChecks(ctx context.Context, monitorID int64, limit int) ([]Check, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, `
		SELECT id, monitor_id, status, response_time_ms, error, checked_at
		FROM checks WHERE monitor_id=?
		ORDER BY checked_at DESC, id DESC LIMIT ?`, monitorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		if c != nil {
			res = append(res, *c)
		}
	}
	return res, rows.Err()
}

func (s *dbStore) LatestCheck(ctx context.Context, monitorID int64) (*Check, error) {
	row := s.queryRow(ctx, `
		SELECT id, monitor_id, status, response_time_ms, error, checked_at
		FROM checks WHERE monitor_id=?
		ORDER BY checked_at DESC, id DESC LIMIT 1`, monitorID)
	return scanCheck(row)
}

// UptimePct reports successful/total*100 since the given time. A monitor with
// no checks in the window counts as fully up.
func (s *dbStore) UptimePct(ctx context.Context, monitorID int64, since time.Time) (float64, error) {
	var total, up int
	err := s.queryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0)
		FROM checks WHERE monitor_id=? AND checked_at>=?`,
		CheckStatusUp, monitorID, since.UTC()).Scan(&total, &up)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}
	return float64(up) / float64(total) * 100, nil
}

func (s *dbStore) AvgResponseTime(ctx context.Context, monitorID int64, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.queryRow(ctx, `
		SELECT AVG(response_time_ms) FROM checks
		WHERE monitor_id=? AND checked_at>=? AND status=? AND response_time_ms IS NOT NULL`,
		monitorID, since.UTC(), CheckStatusUp).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (s *dbStore) bucketExpr(granularity string) string {
	if s.flavor == flavorPostgres {
		if granularity == "day" {
			return `to_char(date_trunc('day', checked_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"00:00:00"Z"')`
		}
		return `to_char(date_trunc('hour', checked_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:00:00"Z"')`
	}
	if granularity == "day" {
		return `strftime('%Y-%m-%dT00:00:00Z', checked_at)`
	}
	return `strftime('%Y-%m-%dT%H:00:00Z', checked_at)`
}

func (s *dbStore) ResponseTimeHistory(ctx context.Context, monitorID int64, since time.Time, granularity string) ([]ResponseTimeBucket, error) {
	if granularity != "day" {
		granularity = "hour"
	}
	rows, err := s.query(ctx, `
		SELECT `+s.bucketExpr(granularity)+` AS bucket, AVG(response_time_ms), MIN(response_time_ms), MAX(response_time_ms), COUNT(*)
		FROM checks
		WHERE monitor_id=? AND checked_at>=? AND status=? AND response_time_ms IS NOT NULL
		GROUP BY bucket ORDER BY bucket`,
		monitorID, since.UTC(), CheckStatusUp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ResponseTimeBucket
	for rows.Next() {
		var b ResponseTimeBucket
		var raw string
		if err := rows.Scan(&raw, &b.AvgMs, &b.MinMs, &b.MaxMs, &b.Count); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			b.Bucket = t
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *dbStore) StateTransitions(ctx context.Context, monitorID int64, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT status, LAG(status) OVER (ORDER BY checked_at, id) AS prev
			FROM checks WHERE monitor_id=? AND checked_at>=?
		) t WHERE t.prev IS NOT NULL AND t.status <> t.prev`,
		monitorID, since.UTC()).Scan(&n)
	return n, err
}

func (s *dbStore) LatestCheckByMonitor(ctx context.Context, ids []int64) (map[int64]Check, error) {
	res := make(map[int64]Check, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := s.query(ctx, `
		SELECT id, monitor_id, status, response_time_ms, error, checked_at FROM (
			SELECT id, monitor_id, status, response_time_ms, error, checked_at,
				ROW_NUMBER() OVER (PARTITION BY monitor_id ORDER BY checked_at DESC, id DESC) AS rn
			FROM checks WHERE monitor_id IN (`+placeholders(len(ids))+`)
		) t WHERE rn=1`, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		if c != nil {
			res[c.MonitorID] = *c
		}
	}
	return res, rows.Err()
}

func (s *dbStore) UptimePctByMonitor(ctx context.Context, ids []int64, since time.Time) (map[int64]float64, error) {
	res := make(map[int64]float64, len(ids))
	for _, id := range ids {
		res[id] = 100
	}
	if len(ids) == 0 {
		return res, nil
	}
	args := append([]any{CheckStatusUp}, idArgs(ids)...)
	args = append(args, since.UTC())
	rows, err := s.query(ctx, `
		SELECT monitor_id, COUNT(*), COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0)
		FROM checks WHERE monitor_id IN (`+placeholders(len(ids))+`) AND checked_at>=?
		GROUP BY monitor_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var total, up int
		if err := rows.Scan(&id, &total, &up); err != nil {
			return nil, err
		}
		if total > 0 {
			res[id] = float64(up) / float64(total) * 100
		}
	}
	return res, rows.Err()
}

func (s *dbStore) AvgResponseTimeByMonitor(ctx context.Context, ids []int64, since time.Time) (map[int64]float64, error) {
	res := make(map[int64]float64, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	args := idArgs(ids)
	args = append(args, since.UTC(), CheckStatusUp)
	rows, err := s.query(ctx, `
		SELECT monitor_id, AVG(response_time_ms)
		FROM checks
		WHERE monitor_id IN (`+placeholders(len(ids))+`) AND checked_at>=? AND status=? AND response_time_ms IS NOT NULL
		GROUP BY monitor_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var avg sql.NullFloat64
		if err := rows.Scan(&id, &avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			res[id] = avg.Float64
		}
	}
	return res, rows.Err()
}

func (s *dbStore) DeleteChecksBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM checks WHERE checked_at<?`, before.UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func scanCheck(row interface {
	Scan(dest ...any) error
}) (*Check, error) {
	var c Check
	var rt sql.NullInt64
	if err := row.Scan(&c.ID, &c.MonitorID, &c.Status, &rt, &c.Error, &c.CheckedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if rt.Valid {
		v := int(rt.Int64)
		c.ResponseTimeMs = &v
	}
	return &c, nil
}
