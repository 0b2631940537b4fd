package store

import (
	"context"
	"database/sql"
	"math"
	"time"
)

func (s *dbStore) UpsertStatusDay(ctx context.Context, day *StatusDay) error {
	day.UpdatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `
		INSERT INTO status_history(monitor_id, date, uptime_pct, avg_response_time_ms, total_checks, successful_checks, updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(monitor_id, date) DO UPDATE SET
			uptime_pct=excluded.uptime_pct, avg_response_time_ms=excluded.avg_response_time_ms,
			total_checks=excluded.total_checks, successful_checks=excluded.successful_checks,
			updated_at=excluded.updated_at`,
		day.MonitorID, day.Date, day.UptimePct, day.AvgResponseTimeMs,
		day.TotalChecks, day.SuccessfulChecks, day.UpdatedAt)
	return err
}

func (s *dbStore) StatusDays(ctx context.Context, monitorID int64, since string) ([]StatusDay, error) {
	rows, err := s.query(ctx, `
		SELECT monitor_id, date, uptime_pct, avg_response_time_ms, total_checks, successful_checks, updated_at
		FROM status_history WHERE monitor_id=? AND date>=?
		ORDER BY date`, monitorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StatusDay
	for rows.Next() {
		var d StatusDay
		if err := rows.Scan(&d.MonitorID, &d.Date, &d.UptimePct, &d.AvgResponseTimeMs,
			&d.TotalChecks, &d.SuccessfulChecks, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *dbStore) dateExpr() string {
	if s.flavor == flavorPostgres {
		return `to_char(checked_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	}
	return `strftime('%Y-%m-%d', checked_at)`
}

// DaysWithChecks lists the distinct UTC dates since the given time that have
// at least one check row, oldest first. The aggregator backfill walks this
// list looking for days without a summary row.
func (s *dbStore) DaysWithChecks(ctx context.Context, monitorID int64, since time.Time) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT `+s.dateExpr()+` AS day
		FROM checks WHERE monitor_id=? AND checked_at>=?
		ORDER BY day`, monitorID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		res = append(res, day)
	}
	return res, rows.Err()
}

// AggregateChecksDay computes one day's summary straight from the raw check
// rows: uptime percentage, average response time over successful checks, and
// the raw counters. Returns nil when the monitor has no checks on that date.
func (s *dbStore) AggregateChecksDay(ctx context.Context, monitorID int64, date string) (*StatusDay, error) {
	var total, successful int
	var avg sql.NullFloat64
	err := s.queryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status=? THEN response_time_ms END)
		FROM checks WHERE monitor_id=? AND `+s.dateExpr()+`=?`,
		CheckStatusUp, CheckStatusUp, monitorID, date).Scan(&total, &successful, &avg)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	day := &StatusDay{
		MonitorID:        monitorID,
		Date:             date,
		UptimePct:        float64(successful) / float64(total) * 100,
		TotalChecks:      total,
		SuccessfulChecks: successful,
	}
	if avg.Valid {
		day.AvgResponseTimeMs = math.Round(avg.Float64)
	}
	return day, nil
}

func (s *dbStore) DeleteStatusDaysBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM status_history WHERE date<?`, date)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
