package schedule

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/monitoring"
	"pulsemon/core/store"
)

// RepeatingKey is the stable queue key for a monitor's repeating entry.
func RepeatingKey(monitorID int64) string {
	return "monitor-" + strconv.FormatInt(monitorID, 10)
}

// Scheduler owns the durable check cadence. A dispatcher goroutine turns due
// repeating entries into job instances; a fixed worker pool claims and runs
// them. Jobs survive restarts in the queue tables, so checks resume where the
// previous process stopped.
type Scheduler struct {
	queue    store.QueueStore
	store    store.Store
	runner   *monitoring.Runner
	detector *monitoring.Detector
	cfg      config.SchedulerConfig
	logger   *zap.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	running     bool
	wg          sync.WaitGroup
	lastPruneAt time.Time
}

func New(queue store.QueueStore, st store.Store, runner *monitoring.Runner, detector *monitoring.Detector, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queue:    queue,
		store:    st,
		runner:   runner,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// Schedule registers one repeating entry per monitor. An entry whose interval
// is unchanged keeps its position in the cadence; new or changed entries fire
// immediately.
func (s *Scheduler) Schedule(ctx context.Context, monitors []store.Monitor) error {
	now := time.Now().UTC()
	for _, m := range monitors {
		job := &store.RepeatingJob{
			Key:       RepeatingKey(m.ID),
			MonitorID: m.ID,
			EveryMs:   int64(m.IntervalSec) * 1000,
			NextRunAt: now,
		}
		if err := s.queue.UpsertRepeating(ctx, job); err != nil {
			return fmt.Errorf("schedule monitor %d: %w", m.ID, err)
		}
	}
	return nil
}

// Reload re-derives the schedule from a new monitor list: stale repeating
// entries go away, waiting instances are drained, every listed monitor is
// re-added. Calling it again with the same list changes nothing.
func (s *Scheduler) Reload(ctx context.Context, monitors []store.Monitor) error {
	keep := make(map[string]bool, len(monitors))
	for _, m := range monitors {
		keep[RepeatingKey(m.ID)] = true
	}
	existing, err := s.queue.ListRepeating(ctx)
	if err != nil {
		return fmt.Errorf("list repeating: %w", err)
	}
	for _, r := range existing {
		if keep[r.Key] {
			continue
		}
		if err := s.queue.DeleteRepeating(ctx, r.Key); err != nil {
			return fmt.Errorf("remove repeating %s: %w", r.Key, err)
		}
	}
	drained, err := s.queue.DrainWaiting(ctx)
	if err != nil {
		return fmt.Errorf("drain waiting: %w", err)
	}
	if drained > 0 && s.logger != nil {
		s.logger.Info("drained waiting jobs for reload", zap.Int64("count", drained))
	}
	return s.Schedule(ctx, monitors)
}

func (s *Scheduler) Start() {
	s.StartWithContext(context.Background())
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	if reset, err := s.queue.ResetStaleActive(runCtx); err != nil {
		s.logger.Error("reset stale active jobs failed", zap.Error(err))
	} else if reset > 0 {
		s.logger.Warn("requeued jobs orphaned by previous shutdown", zap.Int64("count", reset))
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	s.wg.Add(1 + workers)
	go s.dispatch(runCtx)
	for i := 0; i < workers; i++ {
		go s.worker(runCtx)
	}
	s.logger.Info("scheduler started", zap.Int("workers", workers), zap.Duration("tick", s.tick()))
}

// Stop drains in-flight workers within the configured grace period. No new
// claims happen once the run context is cancelled.
func (s *Scheduler) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainGrace())
	defer cancel()
	return s.StopWithContext(ctx)
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel == nil || !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.dispatchDue(ctx)
			s.maybePrune(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// dispatchDue materializes a job instance for every repeating entry whose
// next_run_at has passed, then advances the entry from now. A substrate error
// skips the tick; the next one retries.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.queue.DueRepeating(ctx, now)
	if err != nil {
		s.logger.Error("due repeating lookup failed", zap.Error(err))
		return
	}
	for _, r := range due {
		job := &store.Job{Key: r.Key, MonitorID: r.MonitorID, RunAt: now, MaxAttempts: s.maxAttempts()}
		if _, err := s.queue.EnqueueJob(ctx, job); err != nil {
			s.logger.Error("enqueue check failed", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		next := now.Add(time.Duration(r.EveryMs) * time.Millisecond)
		if err := s.queue.AdvanceRepeating(ctx, r.Key, next); err != nil {
			s.logger.Error("advance repeating failed", zap.String("key", r.Key), zap.Error(err))
		}
	}
}

func (s *Scheduler) maybePrune(ctx context.Context) {
	s.mu.Lock()
	last := s.lastPruneAt
	s.mu.Unlock()
	if !last.IsZero() && time.Since(last) < 5*time.Minute {
		return
	}
	pruned, err := s.queue.PruneJobs(ctx, s.keepCompleted(), s.keepFailed())
	if err != nil {
		s.logger.Error("prune jobs failed", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Debug("pruned finished jobs", zap.Int64("count", pruned))
	}
	s.mu.Lock()
	s.lastPruneAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		claimID := uuid.Must(uuid.NewV4()).String()
		job, err := s.queue.ClaimNextJob(ctx, claimID, time.Now().UTC())
		if err != nil {
			s.logger.Error("claim failed", zap.Error(err))
			s.idle(ctx)
			continue
		}
		if job == nil {
			s.idle(ctx)
			continue
		}
		s.execute(ctx, job)
	}
}

func (s *Scheduler) idle(ctx context.Context) {
	select {
	case <-time.After(s.tick()):
	case <-ctx.Done():
	}
}

func (s *Scheduler) execute(ctx context.Context, job *store.Job) {
	m, err := s.store.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		s.requeue(ctx, job, fmt.Errorf("load monitor: %w", err))
		return
	}
	if m == nil {
		// The monitor was removed after this instance was enqueued.
		if err := s.queue.CompleteJob(ctx, job.ID, time.Now().UTC()); err != nil {
			s.logger.Error("complete stale job failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		return
	}
	res := s.runner.RunCheck(ctx, *m)
	if err := s.detector.Process(ctx, *m, res); err != nil {
		s.requeue(ctx, job, err)
		return
	}
	if err := s.queue.CompleteJob(ctx, job.ID, time.Now().UTC()); err != nil {
		s.logger.Error("complete job failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

// requeue sends a failed execution back through the queue's retry machinery,
// or marks it failed once attempts are spent. The next interval's instance is
// unaffected either way.
func (s *Scheduler) requeue(ctx context.Context, job *store.Job, cause error) {
	now := time.Now().UTC()
	if job.Attempts >= job.MaxAttempts {
		s.logger.Error("job failed permanently",
			zap.Int64("job_id", job.ID),
			zap.Int64("monitor_id", job.MonitorID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause))
		if err := s.queue.FailJob(ctx, job.ID, cause.Error(), now); err != nil {
			s.logger.Error("mark job failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		return
	}
	s.logger.Warn("job retry scheduled",
		zap.Int64("job_id", job.ID),
		zap.Int64("monitor_id", job.MonitorID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause))
	if err := s.queue.RetryJob(ctx, job.ID, cause.Error(), now.Add(s.retryDelay())); err != nil {
		s.logger.Error("requeue job", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

func (s *Scheduler) tick() time.Duration {
	ms := s.cfg.TickMs
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Scheduler) maxAttempts() int {
	if s.cfg.MaxAttempts <= 0 {
		return 2
	}
	return s.cfg.MaxAttempts
}

func (s *Scheduler) retryDelay() time.Duration {
	sec := s.cfg.RetryDelaySec
	if sec <= 0 {
		sec = 5
	}
	return time.Duration(sec) * time.Second
}

func (s *Scheduler) keepCompleted() int {
	if s.cfg.KeepCompleted <= 0 {
		return 100
	}
	return s.cfg.KeepCompleted
}

func (s *Scheduler) keepFailed() int {
	if s.cfg.KeepFailed <= 0 {
		return 500
	}
	return s.cfg.KeepFailed
}
