package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/monitoring"
	"pulsemon/core/schedule"
	"pulsemon/core/store"
)

// application owns the composed runtime. applyMonitors is the single reload
// entry: it applies the new monitor list in full or leaves the previous one
// running untouched.
type application struct {
	cfg       *config.AppConfig
	store     store.Store
	runner    *monitoring.Runner
	oracle    *monitoring.Oracle
	scheduler *schedule.Scheduler
	logger    *zap.Logger
}

func (a *application) applyMonitors(ctx context.Context, path string) error {
	mf, err := config.LoadMonitors(path)
	if err != nil {
		return err
	}
	monitors := buildMonitors(mf)
	fixed := buildFixedWindows(mf)
	daily := buildDailyWindows(mf, a.logger)

	removed, err := a.store.SyncMonitors(ctx, monitors, fixed)
	if err != nil {
		return fmt.Errorf("sync monitors: %w", err)
	}
	a.runner.UpdateConditions(monitors)
	a.oracle.ReplaceDaily(daily)
	if err := a.scheduler.Reload(ctx, monitors); err != nil {
		return fmt.Errorf("reload schedule: %w", err)
	}
	a.logger.Info("monitor list applied",
		zap.Int("monitors", len(monitors)),
		zap.Int("fixed_windows", len(fixed)),
		zap.Int("daily_windows", len(daily)),
		zap.Int64s("removed", removed))
	return nil
}

func buildMonitors(mf *config.MonitorsFile) []store.Monitor {
	monitors := make([]store.Monitor, 0, len(mf.Monitors))
	for i := range mf.Monitors {
		spec := &mf.Monitors[i]
		monitors = append(monitors, store.Monitor{
			ID:          spec.ID,
			Name:        spec.Name,
			Group:       spec.Group,
			Type:        spec.Type,
			URL:         spec.URL,
			IntervalSec: spec.IntervalSec,
			TimeoutSec:  spec.TimeoutSec,
			Public:      spec.IsPublic(),
			Conditions:  spec.Conditions,
			QueryName:   spec.QueryName,
			QueryType:   spec.QueryType,
		})
	}
	return monitors
}

// buildFixedWindows flattens per-monitor and global fixed windows. Specs with
// a daily block belong to the oracle's in-memory map instead; parse failures
// cannot happen past validation, so malformed entries are simply dropped.
func buildFixedWindows(mf *config.MonitorsFile) []store.MaintenanceWindow {
	var windows []store.MaintenanceWindow
	add := func(monitorID *int64, spec *config.MaintenanceSpec) {
		if spec.Daily != nil {
			return
		}
		start, err := time.Parse(time.RFC3339, spec.Start)
		if err != nil {
			return
		}
		end, err := time.Parse(time.RFC3339, spec.End)
		if err != nil {
			return
		}
		windows = append(windows, store.MaintenanceWindow{
			MonitorID:   monitorID,
			StartTime:   start.UTC(),
			EndTime:     end.UTC(),
			Timezone:    strings.TrimSpace(spec.Timezone),
			Description: spec.Description,
		})
	}
	for i := range mf.Monitors {
		m := &mf.Monitors[i]
		id := m.ID
		for j := range m.Maintenance {
			add(&id, &m.Maintenance[j])
		}
	}
	for i := range mf.Maintenance {
		add(nil, &mf.Maintenance[i])
	}
	return windows
}

func buildDailyWindows(mf *config.MonitorsFile, logger *zap.Logger) []monitoring.DailyWindow {
	var windows []monitoring.DailyWindow
	add := func(monitorID *int64, spec *config.MaintenanceSpec) {
		if spec.Daily == nil {
			return
		}
		start, err := config.ParseClock(spec.Daily.Start)
		if err != nil {
			return
		}
		end, err := config.ParseClock(spec.Daily.End)
		if err != nil {
			return
		}
		loc := time.UTC
		if tz := strings.TrimSpace(spec.Timezone); tz != "" {
			if l, err := time.LoadLocation(tz); err == nil {
				loc = l
			} else if logger != nil {
				logger.Warn("unknown timezone, using UTC", zap.String("timezone", tz))
			}
		}
		windows = append(windows, monitoring.DailyWindow{
			MonitorID:    monitorID,
			StartMinutes: start,
			EndMinutes:   end,
			Location:     loc,
			Description:  spec.Description,
		})
	}
	for i := range mf.Monitors {
		m := &mf.Monitors[i]
		id := m.ID
		for j := range m.Maintenance {
			add(&id, &m.Maintenance[j])
		}
	}
	for i := range mf.Maintenance {
		add(nil, &mf.Maintenance[i])
	}
	return windows
}
