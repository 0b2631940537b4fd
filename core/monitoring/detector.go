package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/store"
)

// Detector turns the stream of check results into incident transitions. All
// state lives in the incident table, so calls are stateless and safe across
// workers; the conditional insert in the store keeps the one-active-incident
// invariant when two workers race.
type Detector struct {
	store     store.Store
	oracle    *Oracle
	sink      EventSink
	threshold int
	logger    *zap.Logger
}

func NewDetector(st store.Store, oracle *Oracle, sink EventSink, cfg config.DetectorConfig, logger *zap.Logger) *Detector {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 2
	}
	return &Detector{store: st, oracle: oracle, sink: sink, threshold: threshold, logger: logger}
}

// Process persists the result and applies the incident transition rules.
// Maintenance freezes incident state entirely; check rows are still written.
func (d *Detector) Process(ctx context.Context, m store.Monitor, res CheckResult) error {
	now := res.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	status := store.CheckStatusDown
	if res.Success {
		status = store.CheckStatusUp
	}
	check := &store.Check{
		MonitorID:      m.ID,
		Status:         status,
		ResponseTimeMs: res.ResponseTimeMs,
		Error:          res.Error,
		CheckedAt:      now,
	}
	if _, err := d.store.SaveCheck(ctx, check); err != nil {
		return fmt.Errorf("save check: %w", err)
	}
	if d.oracle != nil && d.oracle.Status(ctx, m.ID, now).InMaintenance {
		if d.logger != nil {
			d.logger.Debug("in maintenance, incident state frozen",
				zap.Int64("monitor_id", m.ID), zap.String("status", status))
		}
		return nil
	}
	active, err := d.store.ActiveIncident(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("active incident: %w", err)
	}
	if res.Success {
		if active == nil {
			return nil
		}
		if err := d.store.ResolveIncident(ctx, active.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Another worker resolved it first.
				return nil
			}
			return fmt.Errorf("resolve incident: %w", err)
		}
		d.publish(ctx, IncidentEvent{
			Kind:       EventResolved,
			MonitorID:  m.ID,
			IncidentID: active.ID,
			Severity:   active.Severity,
			Title:      active.Title,
			Timestamp:  now,
		})
		return nil
	}
	if active != nil {
		return nil
	}
	downs, err := d.consecutiveFailures(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("recent checks: %w", err)
	}
	if downs < d.threshold {
		return nil
	}
	inc := &store.Incident{
		MonitorID:   m.ID,
		Status:      store.IncidentStatusInvestigating,
		Severity:    SeverityFor(res.Error),
		Title:       fmt.Sprintf("%s is down", m.Name),
		Description: res.Error,
		StartedAt:   now,
	}
	id, err := d.store.OpenIncident(ctx, inc)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race, the other worker's incident stands.
			return nil
		}
		return fmt.Errorf("open incident: %w", err)
	}
	d.publish(ctx, IncidentEvent{
		Kind:       EventOpened,
		MonitorID:  m.ID,
		IncidentID: id,
		Severity:   inc.Severity,
		Title:      inc.Title,
		Timestamp:  now,
	})
	return nil
}

// Flapping reports whether a monitor's status oscillated through the last 20
// checks: fewer than 10 rows is never flapping, more than 5 transitions is.
// It is a standalone query and does not gate incident creation.
func (d *Detector) Flapping(ctx context.Context, monitorID int64) (bool, error) {
	checks, err := d.store.RecentChecks(ctx, monitorID, 20)
	if err != nil {
		return false, err
	}
	if len(checks) < 10 {
		return false, nil
	}
	transitions := 0
	for i := 1; i < len(checks); i++ {
		if checks[i].Status != checks[i-1].Status {
			transitions++
		}
	}
	return transitions > 5, nil
}

// consecutiveFailures walks recent checks newest first and stops at the first
// success. The just-saved check is the newest row, so the run includes it.
func (d *Detector) consecutiveFailures(ctx context.Context, monitorID int64) (int, error) {
	checks, err := d.store.RecentChecks(ctx, monitorID, d.threshold)
	if err != nil {
		return 0, err
	}
	downs := 0
	for _, c := range checks {
		if c.Status != store.CheckStatusDown {
			break
		}
		downs++
	}
	return downs, nil
}

func (d *Detector) publish(ctx context.Context, ev IncidentEvent) {
	if d.sink == nil {
		return
	}
	d.sink.Publish(ctx, ev)
}

// SeverityFor maps a check error to an incident severity. DNS and certificate
// trouble escalates hardest, plain refusals and timeouts next, anything else
// is minor.
func SeverityFor(errText string) string {
	t := strings.ToLower(errText)
	switch {
	case strings.Contains(t, "dns") || strings.Contains(t, "certificate"):
		return store.SeverityCritical
	case strings.Contains(t, "timeout") || strings.Contains(t, "econnrefused") || strings.Contains(t, "connection refused"):
		return store.SeverityMajor
	default:
		return store.SeverityMinor
	}
}
