package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pulsemon/core/monitoring"
	"pulsemon/core/store"
)

const (
	errBadRequest  = "bad request"
	errNotFound    = "not found"
	errServerError = "internal server error"
)

// checkStatusPending marks monitors that have never been probed.
const checkStatusPending = "pending"

type monitorOverview struct {
	store.Monitor
	Status            string       `json:"status"`
	LastCheck         *store.Check `json:"last_check,omitempty"`
	Uptime24hPct      float64      `json:"uptime_24h_pct"`
	Uptime7dPct       float64      `json:"uptime_7d_pct"`
	Uptime30dPct      float64      `json:"uptime_30d_pct"`
	AvgResponseTimeMs float64      `json:"avg_response_time_ms"`
}

type monitorDetail struct {
	monitorOverview
	ActiveIncident *store.Incident              `json:"active_incident,omitempty"`
	Maintenance    monitoring.MaintenanceStatus `json:"maintenance"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	monitors, err := s.store.ListMonitors(ctx)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	private := includePrivate(r)
	visible := make([]store.Monitor, 0, len(monitors))
	ids := make([]int64, 0, len(monitors))
	for _, m := range monitors {
		if !m.Public && !private {
			continue
		}
		visible = append(visible, m)
		ids = append(ids, m.ID)
	}

	now := time.Now().UTC()
	latest, err := s.store.LatestCheckByMonitor(ctx, ids)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime24, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime7d, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-7*24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime30d, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-30*24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	avgRT, err := s.store.AvgResponseTimeByMonitor(ctx, ids, now.Add(-24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}

	items := make([]monitorOverview, 0, len(visible))
	for _, m := range visible {
		items = append(items, s.overviewFor(m, latest, uptime24, uptime7d, uptime30d, avgRT))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) overviewFor(m store.Monitor, latest map[int64]store.Check, uptime24, uptime7d, uptime30d, avgRT map[int64]float64) monitorOverview {
	item := monitorOverview{
		Monitor:           m,
		Status:            checkStatusPending,
		Uptime24hPct:      uptime24[m.ID],
		Uptime7dPct:       uptime7d[m.ID],
		Uptime30dPct:      uptime30d[m.ID],
		AvgResponseTimeMs: avgRT[m.ID],
	}
	if c, ok := latest[m.ID]; ok {
		last := c
		item.LastCheck = &last
		item.Status = c.Status
	}
	return item
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	ids := []int64{mon.ID}

	latest, err := s.store.LatestCheckByMonitor(ctx, ids)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime24, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime7d, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-7*24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	uptime30d, err := s.store.UptimePctByMonitor(ctx, ids, now.Add(-30*24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	avgRT, err := s.store.AvgResponseTimeByMonitor(ctx, ids, now.Add(-24*time.Hour))
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	active, err := s.store.ActiveIncident(ctx, mon.ID)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}

	detail := monitorDetail{
		monitorOverview: s.overviewFor(*mon, latest, uptime24, uptime7d, uptime30d, avgRT),
		ActiveIncident:  active,
	}
	if s.oracle != nil {
		detail.Maintenance = s.oracle.Status(ctx, mon.ID, now)
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	limit := queryInt(r, "limit", 50, 500)
	checks, err := s.store.RecentChecks(r.Context(), mon.ID, limit)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": checks})
}

func (s *Server) handleResponseTimes(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	granularity := strings.TrimSpace(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = "hour"
	}
	if granularity != "hour" && granularity != "day" {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	days := queryInt(r, "days", 1, 90)
	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	buckets, err := s.store.ResponseTimeHistory(r.Context(), mon.ID, since, granularity)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": buckets})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	days := queryInt(r, "days", 30, 365)
	rows, err := s.history.HistoryWithFallback(r.Context(), mon.ID, days)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.oracle.Status(r.Context(), mon.ID, time.Now().UTC()))
}

func (s *Server) handleFlapping(w http.ResponseWriter, r *http.Request) {
	mon := s.visibleMonitor(w, r)
	if mon == nil {
		return
	}
	flapping, err := s.detector.Flapping(r.Context(), mon.ID)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"flapping": flapping})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := store.IncidentFilter{Limit: queryInt(r, "limit", 50, 200)}
	if raw := strings.TrimSpace(q.Get("monitor")); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			http.Error(w, errBadRequest, http.StatusBadRequest)
			return
		}
		filter.MonitorID = id
	}
	if active := strings.TrimSpace(q.Get("active")); active != "" {
		filter.ActiveOnly = active == "1" || strings.ToLower(active) == "true"
	}
	items, err := s.store.ListIncidents(ctx, filter)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	if !includePrivate(r) {
		hidden, err := s.hiddenMonitors(ctx)
		if err != nil {
			http.Error(w, errServerError, http.StatusInternalServerError)
			return
		}
		kept := items[:0]
		for _, inc := range items {
			if !hidden[inc.MonitorID] {
				kept = append(kept, inc)
			}
		}
		items = kept
	}
	if items == nil {
		items = []store.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.queue.JobCounts(ctx)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	repeating, err := s.queue.ListRepeating(ctx)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": counts, "repeating": len(repeating)})
}

// visibleMonitor resolves the {id} parameter, writing the error response and
// returning nil when the monitor is missing, hidden, or the id is malformed.
// Hidden monitors read as absent so the public surface does not reveal them.
func (s *Server) visibleMonitor(w http.ResponseWriter, r *http.Request) *store.Monitor {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return nil
	}
	mon, err := s.store.GetMonitor(r.Context(), id)
	if err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return nil
	}
	if mon == nil || (!mon.Public && !includePrivate(r)) {
		http.Error(w, errNotFound, http.StatusNotFound)
		return nil
	}
	return mon
}

func (s *Server) hiddenMonitors(ctx context.Context) (map[int64]bool, error) {
	monitors, err := s.store.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}
	hidden := map[int64]bool{}
	for _, m := range monitors {
		if !m.Public {
			hidden[m.ID] = true
		}
	}
	return hidden, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func includePrivate(r *http.Request) bool {
	v := r.URL.Query().Get("include_private")
	return v == "1" || strings.EqualFold(v, "true")
}
