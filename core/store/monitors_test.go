package store

import (
	"context"
	"testing"
	"time"
)

func TestSyncMonitorsReplacesListAndCascades(t *testing.T) {
	st, queue := setupStore(t)
	ctx := context.Background()

	seedMonitor(t, st, 1, "site")
	seedMonitor(t, st, 2, "api")

	if _, err := st.SaveCheck(ctx, &Check{MonitorID: 2, Status: CheckStatusDown, Error: "timeout"}); err != nil {
		t.Fatalf("save check: %v", err)
	}
	if _, err := st.OpenIncident(ctx, &Incident{MonitorID: 2, Severity: SeverityMajor, Title: "api is down"}); err != nil {
		t.Fatalf("open incident: %v", err)
	}
	if _, err := queue.EnqueueJob(ctx, &Job{Key: "monitor-2", MonitorID: 2, RunAt: time.Now().UTC()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	keep := []Monitor{{ID: 1, Name: "site renamed", Type: "http", URL: "https://site.example.com", IntervalSec: 30, TimeoutSec: 30, Public: true}}
	windows := []MaintenanceWindow{{StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour), Description: "network move"}}
	removed, err := st.SyncMonitors(ctx, keep, windows)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(removed) != 1 || removed[0] != 2 {
		t.Fatalf("removed = %v, want [2]", removed)
	}

	monitors, err := st.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(monitors) != 1 || monitors[0].Name != "site renamed" || monitors[0].IntervalSec != 30 {
		t.Fatalf("surviving monitor wrong: %+v", monitors)
	}

	if c, err := st.LatestCheck(ctx, 2); err != nil || c != nil {
		t.Fatalf("checks must cascade with their monitor: %+v err %v", c, err)
	}
	incs, err := st.ListIncidents(ctx, IncidentFilter{MonitorID: 2})
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(incs) != 0 {
		t.Fatalf("incidents must cascade with their monitor: %+v", incs)
	}
	counts, err := queue.JobCounts(ctx)
	if err != nil {
		t.Fatalf("job counts: %v", err)
	}
	if counts[JobStateWaiting] != 0 {
		t.Fatalf("waiting jobs for removed monitors must be dropped: %+v", counts)
	}

	wins, err := st.ListMaintenanceWindows(ctx, 0)
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	if len(wins) != 1 || wins[0].Description != "network move" {
		t.Fatalf("windows not replaced: %+v", wins)
	}
}

func TestSyncMonitorsIdempotent(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	list := []Monitor{
		{ID: 1, Name: "site", Type: "http", URL: "https://site.example.com", IntervalSec: 60, TimeoutSec: 30, Public: true},
		{ID: 2, Name: "db", Type: "tcp", URL: "db.internal:5432", IntervalSec: 60, TimeoutSec: 10, Public: false},
	}
	windows := []MaintenanceWindow{{StartTime: now, EndTime: now.Add(time.Hour), Description: "move"}}

	for i := 0; i < 2; i++ {
		removed, err := st.SyncMonitors(ctx, list, windows)
		if err != nil {
			t.Fatalf("sync #%d: %v", i+1, err)
		}
		if len(removed) != 0 {
			t.Fatalf("sync #%d removed %v, want none", i+1, removed)
		}
	}

	monitors, _ := st.ListMonitors(ctx)
	if len(monitors) != 2 {
		t.Fatalf("monitors = %d, want 2", len(monitors))
	}
	wins, _ := st.ListMaintenanceWindows(ctx, 0)
	if len(wins) != 1 {
		t.Fatalf("windows must not accumulate across reloads: %+v", wins)
	}
}

func TestActiveMaintenanceWindowScoping(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	list := []Monitor{
		{ID: 1, Name: "site", Type: "http", URL: "https://site.example.com", IntervalSec: 60, TimeoutSec: 30, Public: true},
		{ID: 2, Name: "api", Type: "http", URL: "https://api.example.com", IntervalSec: 60, TimeoutSec: 30, Public: true},
	}
	id1 := int64(1)
	windows := []MaintenanceWindow{
		{MonitorID: &id1, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Description: "db move"},
		{StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour), Description: "future"},
	}
	if _, err := st.SyncMonitors(ctx, list, windows); err != nil {
		t.Fatalf("sync: %v", err)
	}

	w, err := st.ActiveMaintenanceWindow(ctx, 1, now)
	if err != nil {
		t.Fatalf("active window: %v", err)
	}
	if w == nil || w.Description != "db move" {
		t.Fatalf("window = %+v, want db move", w)
	}
	if w.MonitorID == nil || *w.MonitorID != 1 {
		t.Fatalf("window scope lost: %+v", w)
	}

	if w, _ := st.ActiveMaintenanceWindow(ctx, 2, now); w != nil {
		t.Fatalf("monitor 2 must not inherit monitor 1's window: %+v", w)
	}

	// The global window is visible to monitor 2 but only active inside its span.
	ws, _ := st.ListMaintenanceWindows(ctx, 2)
	if len(ws) != 1 || ws[0].Description != "future" {
		t.Fatalf("monitor 2 windows = %+v, want the global one", ws)
	}
	w, _ = st.ActiveMaintenanceWindow(ctx, 2, now.Add(2*time.Hour+time.Minute))
	if w == nil || w.MonitorID != nil {
		t.Fatalf("global window must activate for any monitor: %+v", w)
	}
}
