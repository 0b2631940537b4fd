package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/store"
)

const dateLayout = "2006-01-02"

// Aggregator maintains the per-(monitor, day) summary table. An hourly job
// refreshes today's rows, a nightly job finalizes yesterday, and a daily
// retention job trims raw checks and old summaries. All dates are UTC.
type Aggregator struct {
	store  store.Store
	cfg    config.DataConfig
	logger *zap.Logger
	cron   *cron.Cron
}

func NewAggregator(st store.Store, cfg config.DataConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:  st,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the three jobs and launches the cron loop. Backfill runs
// once in the background so a long catch-up does not delay startup.
func (a *Aggregator) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		fn   func()
	}{
		{"0 * * * *", func() { a.runAggregation(ctx, a.today()) }},
		{"10 0 * * *", func() { a.runAggregation(ctx, a.yesterday()) }},
		{"30 1 * * *", func() { a.runRetention(ctx) }},
	}
	for _, j := range jobs {
		if _, err := a.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("register cron %q: %w", j.spec, err)
		}
	}
	go func() {
		if err := a.Backfill(ctx); err != nil {
			a.logger.Error("history backfill failed", zap.Error(err))
		}
	}()
	a.cron.Start()
	a.logger.Info("history aggregator started")
	return nil
}

func (a *Aggregator) Stop() {
	stopCtx := a.cron.Stop()
	<-stopCtx.Done()
}

// AggregateDay recomputes and upserts the summary row for every monitor that
// has checks on the given date.
func (a *Aggregator) AggregateDay(ctx context.Context, date string) error {
	monitors, err := a.store.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("list monitors: %w", err)
	}
	for _, m := range monitors {
		day, err := a.store.AggregateChecksDay(ctx, m.ID, date)
		if err != nil {
			return fmt.Errorf("aggregate monitor %d on %s: %w", m.ID, date, err)
		}
		if day == nil {
			continue
		}
		if err := a.store.UpsertStatusDay(ctx, day); err != nil {
			return fmt.Errorf("upsert summary %d/%s: %w", m.ID, date, err)
		}
	}
	return nil
}

// Backfill writes summary rows for days inside the retention horizon that
// have check rows but no summary yet. Runs once at startup so restarts do not
// leave holes in the history.
func (a *Aggregator) Backfill(ctx context.Context) error {
	monitors, err := a.store.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("list monitors: %w", err)
	}
	since := time.Now().UTC().AddDate(0, 0, -a.retentionDays())
	filled := 0
	for _, m := range monitors {
		days, err := a.store.DaysWithChecks(ctx, m.ID, since)
		if err != nil {
			return fmt.Errorf("days with checks %d: %w", m.ID, err)
		}
		if len(days) == 0 {
			continue
		}
		existing, err := a.store.StatusDays(ctx, m.ID, since.Format(dateLayout))
		if err != nil {
			return fmt.Errorf("status days %d: %w", m.ID, err)
		}
		have := make(map[string]bool, len(existing))
		for _, d := range existing {
			have[d.Date] = true
		}
		for _, date := range days {
			if have[date] {
				continue
			}
			day, err := a.store.AggregateChecksDay(ctx, m.ID, date)
			if err != nil {
				return fmt.Errorf("aggregate %d/%s: %w", m.ID, date, err)
			}
			if day == nil {
				continue
			}
			if err := a.store.UpsertStatusDay(ctx, day); err != nil {
				return fmt.Errorf("upsert %d/%s: %w", m.ID, date, err)
			}
			filled++
		}
	}
	if filled > 0 {
		a.logger.Info("backfilled summary rows", zap.Int("count", filled))
	}
	return nil
}

// HistoryWithFallback merges stored summary rows with a fresh aggregation of
// raw checks, preferring the raw value when both exist. This covers today,
// which the hourly job may not have observed yet.
func (a *Aggregator) HistoryWithFallback(ctx context.Context, monitorID int64, days int) ([]store.StatusDay, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	byDate := map[string]store.StatusDay{}
	summary, err := a.store.StatusDays(ctx, monitorID, since.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	for _, d := range summary {
		byDate[d.Date] = d
	}
	rawDays, err := a.store.DaysWithChecks(ctx, monitorID, since)
	if err != nil {
		return nil, err
	}
	for _, date := range rawDays {
		day, err := a.store.AggregateChecksDay(ctx, monitorID, date)
		if err != nil {
			return nil, err
		}
		if day != nil {
			byDate[date] = *day
		}
	}
	out := make([]store.StatusDay, 0, len(byDate))
	for _, d := range byDate {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Retention deletes raw checks past the retention horizon and summary rows
// past the longer history horizon.
func (a *Aggregator) Retention(ctx context.Context) error {
	before := time.Now().UTC().AddDate(0, 0, -a.retentionDays())
	checks, err := a.store.DeleteChecksBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("delete checks: %w", err)
	}
	historyBefore := time.Now().UTC().AddDate(0, 0, -a.historyRetentionDays()).Format(dateLayout)
	summaries, err := a.store.DeleteStatusDaysBefore(ctx, historyBefore)
	if err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}
	if checks > 0 || summaries > 0 {
		a.logger.Info("retention pass",
			zap.Int64("checks_deleted", checks),
			zap.Int64("summaries_deleted", summaries))
	}
	return nil
}

func (a *Aggregator) runAggregation(ctx context.Context, date string) {
	if err := a.AggregateDay(ctx, date); err != nil {
		a.logger.Error("daily aggregation failed", zap.String("date", date), zap.Error(err))
	}
}

func (a *Aggregator) runRetention(ctx context.Context) {
	if err := a.Retention(ctx); err != nil {
		a.logger.Error("retention failed", zap.Error(err))
	}
}

func (a *Aggregator) today() string {
	return time.Now().UTC().Format(dateLayout)
}

func (a *Aggregator) yesterday() string {
	return time.Now().UTC().AddDate(0, 0, -1).Format(dateLayout)
}

func (a *Aggregator) retentionDays() int {
	if a.cfg.RetentionDays <= 0 {
		return 90
	}
	return a.cfg.RetentionDays
}

func (a *Aggregator) historyRetentionDays() int {
	if a.cfg.HistoryRetentionDays <= 0 {
		return 365
	}
	return a.cfg.HistoryRetentionDays
}
