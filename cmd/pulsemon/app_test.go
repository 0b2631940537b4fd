package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/monitoring"
	"pulsemon/core/probe"
	"pulsemon/core/schedule"
	"pulsemon/core/store"
)

const sampleMonitors = `
monitors:
  - id: 1
    name: site
    type: http
    url: https://example.com
    interval_sec: 30
    conditions:
      - "[STATUS] == 200"
    maintenance_windows:
      - daily:
          start: "01:00"
          end: "03:00"
        timezone: UTC
        description: nightly window
  - id: 2
    name: resolver
    type: dns
    url: example.org
    query_type: A
    public: false
    maintenance_windows:
      - start: 2026-09-01T00:00:00Z
        end: 2026-09-01T02:00:00Z
        description: planned work
maintenance:
  - daily:
      start: "23:00"
      end: "01:00"
    description: global quiet hours
`

func writeMonitors(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitors.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write monitors file: %v", err)
	}
	return path
}

func TestBuildMonitors(t *testing.T) {
	mf, err := config.LoadMonitors(writeMonitors(t, sampleMonitors))
	if err != nil {
		t.Fatalf("load monitors: %v", err)
	}
	monitors := buildMonitors(mf)
	if len(monitors) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(monitors))
	}
	if monitors[0].ID != 1 || !monitors[0].Public || len(monitors[0].Conditions) != 1 {
		t.Fatalf("unexpected first monitor %+v", monitors[0])
	}
	if monitors[1].Type != "dns" || monitors[1].Public || monitors[1].QueryName != "example.org" {
		t.Fatalf("unexpected second monitor %+v", monitors[1])
	}
}

func TestBuildWindowsSplitsDailyFromFixed(t *testing.T) {
	mf, err := config.LoadMonitors(writeMonitors(t, sampleMonitors))
	if err != nil {
		t.Fatalf("load monitors: %v", err)
	}

	fixed := buildFixedWindows(mf)
	if len(fixed) != 1 {
		t.Fatalf("expected 1 fixed window, got %d", len(fixed))
	}
	if fixed[0].MonitorID == nil || *fixed[0].MonitorID != 2 {
		t.Fatalf("fixed window bound to the wrong monitor: %+v", fixed[0])
	}
	if fixed[0].Description != "planned work" {
		t.Fatalf("unexpected description %q", fixed[0].Description)
	}

	daily := buildDailyWindows(mf, zap.NewNop())
	if len(daily) != 2 {
		t.Fatalf("expected 2 daily windows, got %d", len(daily))
	}
	if daily[0].MonitorID == nil || *daily[0].MonitorID != 1 {
		t.Fatalf("unexpected monitor daily window %+v", daily[0])
	}
	if daily[0].StartMinutes != 60 || daily[0].EndMinutes != 180 {
		t.Fatalf("expected 01:00-03:00, got %d-%d", daily[0].StartMinutes, daily[0].EndMinutes)
	}
	if daily[1].MonitorID != nil || daily[1].StartMinutes != 23*60 || daily[1].EndMinutes != 60 {
		t.Fatalf("unexpected global daily window %+v", daily[1])
	}
}

func setupApp(t *testing.T) *application {
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
	queue := store.NewQueue(db, cfg.DB.Driver)
	registry := probe.NewRegistry(cfg.Probes)
	oracle := monitoring.NewOracle(st, logger)
	runner := monitoring.NewRunner(registry, cfg.Probes, logger)
	detector := monitoring.NewDetector(st, oracle, nil, cfg.Detector, logger)
	scheduler := schedule.New(queue, st, runner, detector, cfg.Scheduler, logger)
	return &application{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		oracle:    oracle,
		scheduler: scheduler,
		logger:    logger,
	}
}

func TestApplyMonitorsKeepsPreviousListOnFailure(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	if err := app.applyMonitors(ctx, writeMonitors(t, sampleMonitors)); err != nil {
		t.Fatalf("apply valid list: %v", err)
	}
	monitors, err := app.store.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("list monitors: %v", err)
	}
	if len(monitors) != 2 {
		t.Fatalf("expected 2 monitors after apply, got %d", len(monitors))
	}

	bad := `
monitors:
  - id: 1
    name: site
    type: http
    url: https://example.com
    interval_sec: 5
`
	if err := app.applyMonitors(ctx, writeMonitors(t, bad)); err == nil {
		t.Fatal("expected a validation error for a 5s interval")
	}
	monitors, err = app.store.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("list monitors after rejected reload: %v", err)
	}
	if len(monitors) != 2 {
		t.Fatalf("rejected reload changed the stored list: %d monitors", len(monitors))
	}
}

func TestApplyMonitorsRemovesAbsentMonitors(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	if err := app.applyMonitors(ctx, writeMonitors(t, sampleMonitors)); err != nil {
		t.Fatalf("apply initial list: %v", err)
	}
	shrunk := `
monitors:
  - id: 1
    name: site
    type: http
    url: https://example.com
    interval_sec: 30
`
	if err := app.applyMonitors(ctx, writeMonitors(t, shrunk)); err != nil {
		t.Fatalf("apply shrunk list: %v", err)
	}
	monitors, err := app.store.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("list monitors: %v", err)
	}
	if len(monitors) != 1 || monitors[0].ID != 1 {
		t.Fatalf("expected only monitor 1 to remain, got %+v", monitors)
	}
}
