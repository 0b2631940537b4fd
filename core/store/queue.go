package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// QueueStore is the durable scheduling substrate. Repeating entries hold the
// per-monitor cadence; job rows are single executions claimed by workers with
// at-least-once semantics.
type QueueStore interface {
	UpsertRepeating(ctx context.Context, job *RepeatingJob) error
	DeleteRepeating(ctx context.Context, key string) error
	ListRepeating(ctx context.Context) ([]RepeatingJob, error)
	DueRepeating(ctx context.Context, now time.Time) ([]RepeatingJob, error)
	AdvanceRepeating(ctx context.Context, key string, nextRunAt time.Time) error

	EnqueueJob(ctx context.Context, job *Job) (int64, error)
	ClaimNextJob(ctx context.Context, claimID string, now time.Time) (*Job, error)
	CompleteJob(ctx context.Context, id int64, at time.Time) error
	RetryJob(ctx context.Context, id int64, errMsg string, runAt time.Time) error
	FailJob(ctx context.Context, id int64, errMsg string, at time.Time) error

	DrainWaiting(ctx context.Context) (int64, error)
	ResetStaleActive(ctx context.Context) (int64, error)
	PruneJobs(ctx context.Context, keepCompleted, keepFailed int) (int64, error)
	JobCounts(ctx context.Context) (map[string]int, error)
}

func NewQueue(db *sql.DB, driver string) QueueStore {
	return &dbStore{db: db, flavor: flavorFor(driver)}
}

// UpsertRepeating registers or updates one repeating entry. An unchanged
// interval keeps its place in the cadence; a changed interval takes the
// provided next_run_at.
func (s *dbStore) UpsertRepeating(ctx context.Context, job *RepeatingJob) error {
	_, err := s.exec(ctx, `
		INSERT INTO queue_repeating(key, monitor_id, every_ms, next_run_at)
		VALUES(?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			monitor_id=excluded.monitor_id,
			next_run_at=CASE WHEN queue_repeating.every_ms=excluded.every_ms
				THEN queue_repeating.next_run_at ELSE excluded.next_run_at END,
			every_ms=excluded.every_ms`,
		job.Key, job.MonitorID, job.EveryMs, job.NextRunAt.UTC())
	return err
}

func (s *dbStore) DeleteRepeating(ctx context.Context, key string) error {
	_, err := s.exec(ctx, `DELETE FROM queue_repeating WHERE key=?`, key)
	return err
}

func (s *dbStore) ListRepeating(ctx context.Context) ([]RepeatingJob, error) {
	return s.selectRepeating(ctx, `
		SELECT key, monitor_id, every_ms, next_run_at
		FROM queue_repeating ORDER BY key`)
}

func (s *dbStore) DueRepeating(ctx context.Context, now time.Time) ([]RepeatingJob, error) {
	return s.selectRepeating(ctx, `
		SELECT key, monitor_id, every_ms, next_run_at
		FROM queue_repeating WHERE next_run_at<=?
		ORDER BY next_run_at, key`, now.UTC())
}

func (s *dbStore) selectRepeating(ctx context.Context, query string, args ...any) ([]RepeatingJob, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RepeatingJob
	for rows.Next() {
		var r RepeatingJob
		if err := rows.Scan(&r.Key, &r.MonitorID, &r.EveryMs, &r.NextRunAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *dbStore) AdvanceRepeating(ctx context.Context, key string, nextRunAt time.Time) error {
	_, err := s.exec(ctx, `UPDATE queue_repeating SET next_run_at=? WHERE key=?`, nextRunAt.UTC(), key)
	return err
}

func (s *dbStore) EnqueueJob(ctx context.Context, job *Job) (int64, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 2
	}
	if job.State == "" {
		job.State = JobStateWaiting
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO queue_jobs(key, monitor_id, state, run_at, max_attempts, created_at)
		VALUES(?,?,?,?,?,?)
		RETURNING id`,
		job.Key, job.MonitorID, job.State, job.RunAt.UTC(), job.MaxAttempts, job.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	job.ID = id
	return id, nil
}

// ClaimNextJob hands the oldest due waiting job to the caller. The claim is
// an optimistic UPDATE conditioned on state, so two workers racing for the
// same row leave exactly one holding it; the loser retries against the next
// candidate.
func (s *dbStore) ClaimNextJob(ctx context.Context, claimID string, now time.Time) (*Job, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := s.nextWaitingJob(ctx, now)
		if err != nil || job == nil {
			return nil, err
		}
		res, err := s.exec(ctx, `
			UPDATE queue_jobs SET state=?, claim_id=?, claimed_at=?, attempts=attempts+1
			WHERE id=? AND state=?`,
			JobStateActive, claimID, now.UTC(), job.ID, JobStateWaiting)
		if err != nil {
			return nil, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue
		}
		job.State = JobStateActive
		job.ClaimID = claimID
		at := now.UTC()
		job.ClaimedAt = &at
		job.Attempts++
		return job, nil
	}
	return nil, nil
}

func (s *dbStore) nextWaitingJob(ctx context.Context, now time.Time) (*Job, error) {
	row := s.queryRow(ctx, `
		SELECT id, key, monitor_id, state, run_at, attempts, max_attempts, last_error, claim_id, claimed_at, finished_at, created_at
		FROM queue_jobs WHERE state=? AND run_at<=?
		ORDER BY run_at, id LIMIT 1`, JobStateWaiting, now.UTC())
	return scanJob(row)
}

func (s *dbStore) CompleteJob(ctx context.Context, id int64, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE queue_jobs SET state=?, finished_at=? WHERE id=?`,
		JobStateCompleted, at.UTC(), id)
	return err
}

func (s *dbStore) RetryJob(ctx context.Context, id int64, errMsg string, runAt time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE queue_jobs SET state=?, last_error=?, run_at=?, claim_id='', claimed_at=NULL
		WHERE id=?`,
		JobStateWaiting, errMsg, runAt.UTC(), id)
	return err
}

func (s *dbStore) FailJob(ctx context.Context, id int64, errMsg string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE queue_jobs SET state=?, last_error=?, finished_at=? WHERE id=?`,
		JobStateFailed, errMsg, at.UTC(), id)
	return err
}

func (s *dbStore) DrainWaiting(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM queue_jobs WHERE state=?`, JobStateWaiting)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ResetStaleActive returns jobs orphaned by a crash to the waiting state so
// the next claim re-runs them.
func (s *dbStore) ResetStaleActive(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE queue_jobs SET state=?, claim_id='', claimed_at=NULL WHERE state=?`,
		JobStateWaiting, JobStateActive)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *dbStore) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	var total int64
	for _, p := range []struct {
		state string
		keep  int
	}{
		{JobStateCompleted, keepCompleted},
		{JobStateFailed, keepFailed},
	} {
		if p.keep < 0 {
			continue
		}
		res, err := s.exec(ctx, `
			DELETE FROM queue_jobs WHERE state=? AND id NOT IN (
				SELECT id FROM queue_jobs WHERE state=? ORDER BY id DESC LIMIT ?)`,
			p.state, p.state, p.keep)
		if err != nil {
			return total, err
		}
		affected, _ := res.RowsAffected()
		total += affected
	}
	return total, nil
}

func (s *dbStore) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT state, COUNT(*) FROM queue_jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		res[state] = n
	}
	return res, rows.Err()
}

func scanJob(row interface {
	Scan(dest ...any) error
}) (*Job, error) {
	var j Job
	var claimedAt, finishedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Key, &j.MonitorID, &j.State, &j.RunAt, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &j.ClaimID, &claimedAt, &finishedAt, &j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}
