package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// MonitorTypes is the closed set of probe types a monitor may declare.
var MonitorTypes = []string{"http", "tcp", "websocket", "dns", "ping"}

// MonitorsFile is the parsed monitor list. The top-level maintenance section
// holds global windows that apply to every monitor.
type MonitorsFile struct {
	Monitors    []MonitorSpec     `yaml:"monitors"`
	Maintenance []MaintenanceSpec `yaml:"maintenance"`
}

type MonitorSpec struct {
	ID          int64             `yaml:"id"`
	Name        string            `yaml:"name"`
	Group       string            `yaml:"group"`
	Type        string            `yaml:"type"`
	URL         string            `yaml:"url"`
	IntervalSec int               `yaml:"interval_sec"`
	TimeoutSec  int               `yaml:"timeout_sec"`
	Public      *bool             `yaml:"public"`
	Conditions  []string          `yaml:"conditions"`
	QueryName   string            `yaml:"query_name"`
	QueryType   string            `yaml:"query_type"`
	Maintenance []MaintenanceSpec `yaml:"maintenance_windows"`
}

// MaintenanceSpec is one window. A daily block makes it recurring; otherwise
// start and end are RFC 3339 instants for a fixed window.
type MaintenanceSpec struct {
	Daily       *DailyWindowSpec `yaml:"daily"`
	Start       string           `yaml:"start"`
	End         string           `yaml:"end"`
	Timezone    string           `yaml:"timezone"`
	Description string           `yaml:"description"`
}

type DailyWindowSpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

func (m *MonitorSpec) IsPublic() bool {
	return m.Public == nil || *m.Public
}

// LoadMonitors reads the monitor list, fills defaults, and validates it. A
// failed validation leaves the caller's previous list untouched.
func LoadMonitors(path string) (*MonitorsFile, error) {
	var mf MonitorsFile
	if err := cleanenv.ReadConfig(path, &mf); err != nil {
		return nil, fmt.Errorf("read monitors %s: %w", path, err)
	}
	mf.applyDefaults()
	if err := mf.Validate(); err != nil {
		return nil, err
	}
	return &mf, nil
}

func (f *MonitorsFile) applyDefaults() {
	for i := range f.Monitors {
		m := &f.Monitors[i]
		m.Type = strings.ToLower(strings.TrimSpace(m.Type))
		m.Name = strings.TrimSpace(m.Name)
		m.URL = strings.TrimSpace(m.URL)
		if m.IntervalSec == 0 {
			m.IntervalSec = 60
		}
		if m.TimeoutSec == 0 {
			m.TimeoutSec = 30
		}
		if m.Type == "dns" {
			m.QueryType = strings.ToUpper(strings.TrimSpace(m.QueryType))
			if m.QueryType == "" {
				m.QueryType = "A"
			}
			if strings.TrimSpace(m.QueryName) == "" {
				m.QueryName = m.URL
			}
		}
	}
}

func (f *MonitorsFile) Validate() error {
	seen := make(map[int64]struct{}, len(f.Monitors))
	for i := range f.Monitors {
		m := &f.Monitors[i]
		if m.ID <= 0 {
			return fmt.Errorf("monitor #%d: id must be a positive integer", i+1)
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("monitor id %d: duplicate id", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Name == "" {
			return fmt.Errorf("monitor id %d: name is required", m.ID)
		}
		if !validMonitorType(m.Type) {
			return fmt.Errorf("monitor %q: unknown type %q (want one of %s)", m.Name, m.Type, strings.Join(MonitorTypes, ", "))
		}
		if m.URL == "" {
			return fmt.Errorf("monitor %q: url is required", m.Name)
		}
		if m.IntervalSec < 10 {
			return fmt.Errorf("monitor %q: interval_sec %d is below the 10s minimum", m.Name, m.IntervalSec)
		}
		if m.TimeoutSec <= 0 {
			return fmt.Errorf("monitor %q: timeout_sec must be positive", m.Name)
		}
		for j := range m.Maintenance {
			if err := m.Maintenance[j].validate(); err != nil {
				return fmt.Errorf("monitor %q window #%d: %w", m.Name, j+1, err)
			}
		}
	}
	for i := range f.Maintenance {
		if err := f.Maintenance[i].validate(); err != nil {
			return fmt.Errorf("global maintenance window #%d: %w", i+1, err)
		}
	}
	return nil
}

func (w *MaintenanceSpec) validate() error {
	if tz := strings.TrimSpace(w.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q", tz)
		}
	}
	if w.Daily != nil {
		if _, err := ParseClock(w.Daily.Start); err != nil {
			return fmt.Errorf("daily start: %w", err)
		}
		if _, err := ParseClock(w.Daily.End); err != nil {
			return fmt.Errorf("daily end: %w", err)
		}
		return nil
	}
	start, err := time.Parse(time.RFC3339, w.Start)
	if err != nil {
		return fmt.Errorf("start %q is not RFC 3339", w.Start)
	}
	end, err := time.Parse(time.RFC3339, w.End)
	if err != nil {
		return fmt.Errorf("end %q is not RFC 3339", w.End)
	}
	if !start.Before(end) {
		return fmt.Errorf("start must be before end")
	}
	return nil
}

func validMonitorType(t string) bool {
	for _, v := range MonitorTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseClock parses an "HH:MM" wall-clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q must look like HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q has a bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q has a bad minute", s)
	}
	return h*60 + m, nil
}
