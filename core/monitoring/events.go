package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	EventOpened   = "opened"
	EventResolved = "resolved"
)

// IncidentEvent is emitted in-process on every incident transition. Delivery,
// retry and templating are the observer's problem, not the detector's.
type IncidentEvent struct {
	Kind       string    `json:"kind"`
	MonitorID  int64     `json:"monitor_id"`
	IncidentID int64     `json:"incident_id"`
	Severity   string    `json:"severity,omitempty"`
	Title      string    `json:"title,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type EventSink interface {
	Publish(ctx context.Context, ev IncidentEvent)
}

// LogSink writes incident transitions to the structured log. It is the
// default sink when no notifier is attached.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev IncidentEvent) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info("incident "+ev.Kind,
		zap.Int64("monitor_id", ev.MonitorID),
		zap.Int64("incident_id", ev.IncidentID),
		zap.String("severity", ev.Severity),
		zap.String("title", ev.Title),
		zap.Time("timestamp", ev.Timestamp),
	)
}
