package monitoring

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"pulsemon/core/store"
)

func TestOracleDailyWindow(t *testing.T) {
	oracle := NewOracle(nil, zap.NewNop())
	id := int64(7)
	oracle.ReplaceDaily([]DailyWindow{{
		MonitorID:    &id,
		StartMinutes: 9 * 60,
		EndMinutes:   17 * 60,
		Description:  "office hours",
	}})
	ctx := context.Background()

	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	st := oracle.Status(ctx, 7, at)
	if !st.InMaintenance {
		t.Fatal("12:00 should be inside a 09:00-17:00 window")
	}
	if st.Description != "office hours" {
		t.Fatalf("unexpected description %q", st.Description)
	}
	wantEnd := time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
	if st.EndsAt == nil || !st.EndsAt.Equal(wantEnd) {
		t.Fatalf("expected end %v, got %v", wantEnd, st.EndsAt)
	}

	if oracle.Status(ctx, 7, time.Date(2025, 6, 2, 8, 59, 0, 0, time.UTC)).InMaintenance {
		t.Fatal("08:59 is before the window")
	}
	// The end minute is exclusive.
	if oracle.Status(ctx, 7, time.Date(2025, 6, 2, 17, 0, 30, 0, time.UTC)).InMaintenance {
		t.Fatal("17:00 is past the window")
	}
	if oracle.Status(ctx, 8, at).InMaintenance {
		t.Fatal("window is scoped to monitor 7")
	}
}

func TestOracleOvernightWindow(t *testing.T) {
	oracle := NewOracle(nil, zap.NewNop())
	id := int64(1)
	oracle.ReplaceDaily([]DailyWindow{{
		MonitorID:    &id,
		StartMinutes: 22 * 60,
		EndMinutes:   6 * 60,
	}})
	ctx := context.Background()

	late := oracle.Status(ctx, 1, time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC))
	if !late.InMaintenance {
		t.Fatal("23:30 should be inside a 22:00-06:00 window")
	}
	wantEnd := time.Date(2025, 6, 3, 6, 0, 0, 0, time.UTC)
	if late.EndsAt == nil || !late.EndsAt.Equal(wantEnd) {
		t.Fatalf("overnight window must end tomorrow: want %v got %v", wantEnd, late.EndsAt)
	}

	early := oracle.Status(ctx, 1, time.Date(2025, 6, 3, 5, 0, 0, 0, time.UTC))
	if !early.InMaintenance {
		t.Fatal("05:00 should still be inside the window")
	}
	wantEnd = time.Date(2025, 6, 3, 6, 0, 0, 0, time.UTC)
	if early.EndsAt == nil || !early.EndsAt.Equal(wantEnd) {
		t.Fatalf("pre-dawn end should be today: want %v got %v", wantEnd, early.EndsAt)
	}

	if oracle.Status(ctx, 1, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)).InMaintenance {
		t.Fatal("noon is outside the overnight window")
	}
}

func TestOracleWindowTimezone(t *testing.T) {
	oracle := NewOracle(nil, zap.NewNop())
	id := int64(1)
	loc := time.FixedZone("UTC-5", -5*3600)
	oracle.ReplaceDaily([]DailyWindow{{
		MonitorID:    &id,
		StartMinutes: 9 * 60,
		EndMinutes:   17 * 60,
		Location:     loc,
	}})
	ctx := context.Background()

	// 15:00 UTC is 10:00 local, inside the window.
	if !oracle.Status(ctx, 1, time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)).InMaintenance {
		t.Fatal("15:00 UTC should be inside a 09:00-17:00 UTC-5 window")
	}
	// 23:00 UTC is 18:00 local, outside.
	if oracle.Status(ctx, 1, time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)).InMaintenance {
		t.Fatal("23:00 UTC should be outside the window")
	}
}

func TestOracleGlobalDailyWindow(t *testing.T) {
	oracle := NewOracle(nil, zap.NewNop())
	oracle.ReplaceDaily([]DailyWindow{{
		StartMinutes: 0,
		EndMinutes:   24 * 60,
		Description:  "global freeze",
	}})
	st := oracle.Status(context.Background(), 42, time.Now().UTC())
	if !st.InMaintenance || st.Description != "global freeze" {
		t.Fatalf("global daily window should apply to every monitor: %+v", st)
	}
}

func TestOracleFixedWindowFromStore(t *testing.T) {
	dbs := newTestStore(t)
	oracle := NewOracle(dbs, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	m := store.Monitor{ID: 1, Name: "api", Type: "http", URL: "https://api.example.com", IntervalSec: 60}
	other := store.Monitor{ID: 2, Name: "db", Type: "tcp", URL: "db.example.com:5432", IntervalSec: 60}
	id := m.ID
	windows := []store.MaintenanceWindow{
		{MonitorID: &id, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Description: "patching"},
	}
	if _, err := dbs.SyncMonitors(ctx, []store.Monitor{m, other}, windows); err != nil {
		t.Fatalf("sync: %v", err)
	}

	st := oracle.Status(ctx, m.ID, now)
	if !st.InMaintenance || st.Description != "patching" {
		t.Fatalf("expected fixed window hit: %+v", st)
	}
	if st.EndsAt == nil || !st.EndsAt.Equal(windows[0].EndTime) {
		t.Fatalf("fixed window end mismatch: %+v", st.EndsAt)
	}
	if oracle.Status(ctx, other.ID, now).InMaintenance {
		t.Fatal("fixed window is scoped to monitor 1")
	}
	if oracle.Status(ctx, m.ID, now.Add(2*time.Hour)).InMaintenance {
		t.Fatal("window has ended two hours on")
	}
}

func TestOracleGlobalFixedWindow(t *testing.T) {
	dbs := newTestStore(t)
	oracle := NewOracle(dbs, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	m := store.Monitor{ID: 1, Name: "api", Type: "http", URL: "https://api.example.com", IntervalSec: 60}
	windows := []store.MaintenanceWindow{
		{StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute), Description: "platform upgrade"},
	}
	if _, err := dbs.SyncMonitors(ctx, []store.Monitor{m}, windows); err != nil {
		t.Fatalf("sync: %v", err)
	}
	st := oracle.Status(ctx, m.ID, now)
	if !st.InMaintenance || st.Description != "platform upgrade" {
		t.Fatalf("null monitor_id window should apply to all monitors: %+v", st)
	}
}

func TestOracleDailyBeatsFixed(t *testing.T) {
	dbs := newTestStore(t)
	oracle := NewOracle(dbs, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	m := store.Monitor{ID: 1, Name: "api", Type: "http", URL: "https://api.example.com", IntervalSec: 60}
	id := m.ID
	windows := []store.MaintenanceWindow{
		{MonitorID: &id, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Description: "fixed"},
	}
	if _, err := dbs.SyncMonitors(ctx, []store.Monitor{m}, windows); err != nil {
		t.Fatalf("sync: %v", err)
	}
	oracle.ReplaceDaily([]DailyWindow{{MonitorID: &id, StartMinutes: 0, EndMinutes: 24 * 60, Description: "daily"}})

	st := oracle.Status(ctx, m.ID, now)
	if !st.InMaintenance || st.Description != "daily" {
		t.Fatalf("daily window should take precedence: %+v", st)
	}
}
