package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsemon/core/store"
)

// DailyWindow is one in-memory recurring maintenance entry. A nil MonitorID
// applies the window to every monitor. Start and End are minutes of day in
// Location; Start > End wraps overnight past midnight.
type DailyWindow struct {
	MonitorID    *int64
	StartMinutes int
	EndMinutes   int
	Location     *time.Location
	Description  string
}

type MaintenanceStatus struct {
	InMaintenance bool       `json:"in_maintenance"`
	Description   string     `json:"description,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
}

// Oracle answers "is this monitor in maintenance right now". Recurring daily
// windows live in memory and are replaced wholesale on config reload; fixed
// windows come from the store. Daily windows win when both apply.
type Oracle struct {
	store  store.Store
	logger *zap.Logger
	mu     sync.RWMutex
	daily  map[int64][]DailyWindow
	global []DailyWindow
}

func NewOracle(st store.Store, logger *zap.Logger) *Oracle {
	return &Oracle{
		store:  st,
		logger: logger,
		daily:  map[int64][]DailyWindow{},
	}
}

// ReplaceDaily swaps the whole recurring map, monitor-scoped and global
// entries alike. Only the reload path calls this.
func (o *Oracle) ReplaceDaily(windows []DailyWindow) {
	daily := make(map[int64][]DailyWindow)
	var global []DailyWindow
	for _, w := range windows {
		if w.MonitorID == nil {
			global = append(global, w)
			continue
		}
		daily[*w.MonitorID] = append(daily[*w.MonitorID], w)
	}
	o.mu.Lock()
	o.daily = daily
	o.global = global
	o.mu.Unlock()
}

func (o *Oracle) Status(ctx context.Context, monitorID int64, now time.Time) MaintenanceStatus {
	o.mu.RLock()
	candidates := make([]DailyWindow, 0, len(o.daily[monitorID])+len(o.global))
	candidates = append(candidates, o.daily[monitorID]...)
	candidates = append(candidates, o.global...)
	o.mu.RUnlock()
	for _, w := range candidates {
		if st, ok := w.activeAt(now); ok {
			return st
		}
	}
	if o.store == nil {
		return MaintenanceStatus{}
	}
	win, err := o.store.ActiveMaintenanceWindow(ctx, monitorID, now)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("maintenance window lookup failed",
				zap.Int64("monitor_id", monitorID), zap.Error(err))
		}
		return MaintenanceStatus{}
	}
	if win == nil {
		return MaintenanceStatus{}
	}
	ends := win.EndTime
	return MaintenanceStatus{InMaintenance: true, Description: win.Description, EndsAt: &ends}
}

func (w DailyWindow) activeAt(now time.Time) (MaintenanceStatus, bool) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	var active bool
	if w.StartMinutes <= w.EndMinutes {
		active = minute >= w.StartMinutes && minute < w.EndMinutes
	} else {
		active = minute >= w.StartMinutes || minute < w.EndMinutes
	}
	if !active {
		return MaintenanceStatus{}, false
	}
	// Next wall-clock occurrence of the end time, tomorrow when the window
	// wraps past midnight.
	ends := time.Date(local.Year(), local.Month(), local.Day(), w.EndMinutes/60, w.EndMinutes%60, 0, 0, loc)
	if !ends.After(local) {
		ends = ends.AddDate(0, 0, 1)
	}
	endsUTC := ends.UTC()
	return MaintenanceStatus{InMaintenance: true, Description: w.Description, EndsAt: &endsUTC}, true
}
