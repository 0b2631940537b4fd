package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// OpenIncident inserts a new incident only when the monitor has no active
// one. The insert is conditional on NOT EXISTS and the partial unique index
// on (monitor_id) WHERE resolved_at IS NULL backs it up, so a worker that
// loses the race gets ErrConflict instead of a second open incident.
func (s *dbStore) OpenIncident(ctx context.Context, inc *Incident) (int64, error) {
	if inc.StartedAt.IsZero() {
		inc.StartedAt = time.Now().UTC()
	}
	if inc.Status == "" {
		inc.Status = IncidentStatusInvestigating
	}
	if inc.Severity == "" {
		inc.Severity = SeverityMinor
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO incidents(monitor_id, status, severity, title, description, started_at)
		SELECT ?,?,?,?,?,?
		WHERE NOT EXISTS (SELECT 1 FROM incidents WHERE monitor_id=? AND resolved_at IS NULL)
		RETURNING id`,
		inc.MonitorID, inc.Status, inc.Severity, strings.TrimSpace(inc.Title), inc.Description,
		inc.StartedAt.UTC(), inc.MonitorID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	inc.ID = id
	return id, nil
}

func (s *dbStore) ActiveIncident(ctx context.Context, monitorID int64) (*Incident, error) {
	row := s.queryRow(ctx, `
		SELECT id, monitor_id, status, severity, title, description, started_at, resolved_at
		FROM incidents WHERE monitor_id=? AND resolved_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, monitorID)
	return scanIncident(row)
}

func (s *dbStore) ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE incidents SET status=?, resolved_at=?
		WHERE id=? AND resolved_at IS NULL`,
		IncidentStatusResolved, at.UTC(), incidentID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *dbStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.queryRow(ctx, `
		SELECT id, monitor_id, status, severity, title, description, started_at, resolved_at
		FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *dbStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `
		SELECT id, monitor_id, status, severity, title, description, started_at, resolved_at
		FROM incidents`
	var clauses []string
	var args []any
	if filter.MonitorID > 0 {
		clauses = append(clauses, "monitor_id=?")
		args = append(args, filter.MonitorID)
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		if inc != nil {
			res = append(res, *inc)
		}
	}
	return res, rows.Err()
}

func scanIncident(row interface {
	Scan(dest ...any) error
}) (*Incident, error) {
	var inc Incident
	var resolved sql.NullTime
	if err := row.Scan(&inc.ID, &inc.MonitorID, &inc.Status, &inc.Severity, &inc.Title,
		&inc.Description, &inc.StartedAt, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if resolved.Valid {
		inc.ResolvedAt = &resolved.Time
	}
	return &inc, nil
}
