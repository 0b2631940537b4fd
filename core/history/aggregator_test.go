package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/store"
)

func setupHistoryEnv(t *testing.T) (store.Store, *Aggregator) {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.DB.Driver = "sqlite"
	cfg.DB.Path = filepath.Join(t.TempDir(), "pulsemon.db")
	logger := zap.NewNop()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg.DB.Driver, logger); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	st := store.New(db, cfg.DB.Driver)
	agg := NewAggregator(st, config.DataConfig{RetentionDays: 30, HistoryRetentionDays: 60}, logger)
	return st, agg
}

func addMonitor(t *testing.T, st store.Store, id int64, name string) store.Monitor {
	t.Helper()
	m := store.Monitor{ID: id, Name: name, Type: "http", URL: "https://" + name + ".example.com", IntervalSec: 60}
	if err := st.UpsertMonitor(context.Background(), &m); err != nil {
		t.Fatalf("upsert monitor: %v", err)
	}
	return m
}

func rt(ms int) *int { return &ms }

func TestAggregateDay(t *testing.T) {
	st, agg := setupHistoryEnv(t)
	ctx := context.Background()
	m := addMonitor(t, st, 1, "api")

	ts := time.Now().UTC()
	date := ts.Format(dateLayout)
	checks := []store.Check{
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(100), CheckedAt: ts},
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(200), CheckedAt: ts},
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(300), CheckedAt: ts},
		{MonitorID: m.ID, Status: store.CheckStatusDown, Error: "timeout", CheckedAt: ts},
	}
	if err := st.SaveChecks(ctx, checks); err != nil {
		t.Fatalf("save checks: %v", err)
	}

	if err := agg.AggregateDay(ctx, date); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	days, err := st.StatusDays(ctx, m.ID, date)
	if err != nil {
		t.Fatalf("status days: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected one summary row, got %d", len(days))
	}
	d := days[0]
	if d.TotalChecks != 4 || d.SuccessfulChecks != 3 {
		t.Fatalf("counters wrong: %+v", d)
	}
	if d.UptimePct != 75 {
		t.Fatalf("expected 75%% uptime, got %v", d.UptimePct)
	}
	if d.AvgResponseTimeMs != 200 {
		t.Fatalf("average must cover successful checks only, got %v", d.AvgResponseTimeMs)
	}

	// Re-running the same day updates in place.
	if err := st.SaveChecks(ctx, []store.Check{{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(200), CheckedAt: ts}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := agg.AggregateDay(ctx, date); err != nil {
		t.Fatalf("re-aggregate: %v", err)
	}
	days, _ = st.StatusDays(ctx, m.ID, date)
	if len(days) != 1 || days[0].TotalChecks != 5 {
		t.Fatalf("upsert did not replace the row: %+v", days)
	}
}

func TestBackfillFillsOnlyMissingDays(t *testing.T) {
	st, agg := setupHistoryEnv(t)
	ctx := context.Background()
	m := addMonitor(t, st, 1, "api")

	ts := time.Now().UTC()
	day1 := ts.AddDate(0, 0, -3)
	day2 := ts.AddDate(0, 0, -2)
	checks := []store.Check{
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(120), CheckedAt: day1},
		{MonitorID: m.ID, Status: store.CheckStatusDown, Error: "timeout", CheckedAt: day2},
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(80), CheckedAt: day2},
	}
	if err := st.SaveChecks(ctx, checks); err != nil {
		t.Fatalf("save checks: %v", err)
	}
	// day1 already has a (stale) summary that backfill must leave alone.
	stale := &store.StatusDay{MonitorID: m.ID, Date: day1.Format(dateLayout), UptimePct: 42, TotalChecks: 9, SuccessfulChecks: 4}
	if err := st.UpsertStatusDay(ctx, stale); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	if err := agg.Backfill(ctx); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	days, err := st.StatusDays(ctx, m.ID, day1.AddDate(0, 0, -1).Format(dateLayout))
	if err != nil {
		t.Fatalf("status days: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected summaries for both days, got %+v", days)
	}
	if days[0].UptimePct != 42 {
		t.Fatalf("backfill must not touch existing rows: %+v", days[0])
	}
	if days[1].TotalChecks != 2 || days[1].SuccessfulChecks != 1 || days[1].UptimePct != 50 {
		t.Fatalf("day2 aggregation wrong: %+v", days[1])
	}
}

func TestHistoryWithFallbackPrefersRaw(t *testing.T) {
	st, agg := setupHistoryEnv(t)
	ctx := context.Background()
	m := addMonitor(t, st, 1, "api")

	ts := time.Now().UTC()
	today := ts.Format(dateLayout)
	oldDate := ts.AddDate(0, 0, -20).Format(dateLayout)

	// Today: raw says 50%, the stale summary says 100%.
	if err := st.SaveChecks(ctx, []store.Check{
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(90), CheckedAt: ts},
		{MonitorID: m.ID, Status: store.CheckStatusDown, Error: "timeout", CheckedAt: ts},
	}); err != nil {
		t.Fatalf("save checks: %v", err)
	}
	if err := st.UpsertStatusDay(ctx, &store.StatusDay{MonitorID: m.ID, Date: today, UptimePct: 100, TotalChecks: 1, SuccessfulChecks: 1}); err != nil {
		t.Fatalf("seed today summary: %v", err)
	}
	// An old day whose raw checks were already trimmed survives via summary.
	if err := st.UpsertStatusDay(ctx, &store.StatusDay{MonitorID: m.ID, Date: oldDate, UptimePct: 99.5, TotalChecks: 1440, SuccessfulChecks: 1433}); err != nil {
		t.Fatalf("seed old summary: %v", err)
	}

	days, err := agg.HistoryWithFallback(ctx, m.ID, 30)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected two days, got %+v", days)
	}
	if days[0].Date != oldDate || days[0].UptimePct != 99.5 {
		t.Fatalf("summary-only day lost: %+v", days[0])
	}
	if days[1].Date != today || days[1].UptimePct != 50 || days[1].TotalChecks != 2 {
		t.Fatalf("raw aggregation must win for today: %+v", days[1])
	}
}

func TestRetentionTrimsChecksAndSummaries(t *testing.T) {
	st, agg := setupHistoryEnv(t)
	ctx := context.Background()
	m := addMonitor(t, st, 1, "api")

	ts := time.Now().UTC()
	if err := st.SaveChecks(ctx, []store.Check{
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(100), CheckedAt: ts.AddDate(0, 0, -40)},
		{MonitorID: m.ID, Status: store.CheckStatusUp, ResponseTimeMs: rt(100), CheckedAt: ts.AddDate(0, 0, -10)},
	}); err != nil {
		t.Fatalf("save checks: %v", err)
	}
	for _, d := range []int{-90, -40} {
		day := &store.StatusDay{MonitorID: m.ID, Date: ts.AddDate(0, 0, d).Format(dateLayout), UptimePct: 100, TotalChecks: 10, SuccessfulChecks: 10}
		if err := st.UpsertStatusDay(ctx, day); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}

	if err := agg.Retention(ctx); err != nil {
		t.Fatalf("retention: %v", err)
	}
	checks, err := st.RecentChecks(ctx, m.ID, 10)
	if err != nil {
		t.Fatalf("recent checks: %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("expected one surviving check, got %d", len(checks))
	}
	days, err := st.StatusDays(ctx, m.ID, ts.AddDate(0, 0, -120).Format(dateLayout))
	if err != nil {
		t.Fatalf("status days: %v", err)
	}
	if len(days) != 1 || days[0].Date != ts.AddDate(0, 0, -40).Format(dateLayout) {
		t.Fatalf("history horizon wrong: %+v", days)
	}
}
