package monitoring

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/condition"
	"pulsemon/core/probe"
	"pulsemon/core/store"
)

// CheckResult is the runner's output for one monitor check. Success is the
// probe outcome and every condition together.
type CheckResult struct {
	MonitorID        int64               `json:"monitor_id"`
	MonitorName      string              `json:"monitor_name"`
	Success          bool                `json:"success"`
	ResponseTimeMs   *int                `json:"response_time_ms,omitempty"`
	Error            string              `json:"error,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
	ConditionResults []condition.Outcome `json:"condition_results,omitempty"`
}

// Runner resolves a monitor to its prober, executes the probe with the
// monitor's timeout and evaluates its conditions against the probe context.
// Parsed conditions are cached per monitor id until the next reload.
type Runner struct {
	registry       *probe.Registry
	defaultTimeout time.Duration
	concurrency    int
	logger         *zap.Logger

	mu         sync.RWMutex
	conditions map[int64][]condition.Condition
}

func NewRunner(registry *probe.Registry, cfg config.ProbesConfig, logger *zap.Logger) *Runner {
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	return &Runner{
		registry:       registry,
		defaultTimeout: cfg.DefaultTimeout(),
		concurrency:    concurrency,
		logger:         logger,
		conditions:     map[int64][]condition.Condition{},
	}
}

// RunCheck never panics: a panicking prober or condition turns into a failed
// result so the worker loop stays alive.
func (r *Runner) RunCheck(ctx context.Context, m store.Monitor) (res CheckResult) {
	res = CheckResult{MonitorID: m.ID, MonitorName: m.Name, Timestamp: time.Now().UTC()}
	defer func() {
		if rec := recover(); rec != nil {
			res.Success = false
			res.Error = fmt.Sprintf("check panicked: %v", rec)
			if r.logger != nil {
				r.logger.Error("check panic",
					zap.Int64("monitor_id", m.ID),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
			}
		}
	}()
	prober, ok := r.registry.Lookup(m.Type)
	if !ok {
		res.Error = fmt.Sprintf("unknown monitor type %q", m.Type)
		return res
	}
	timeout := r.defaultTimeout
	if m.TimeoutSec > 0 {
		timeout = time.Duration(m.TimeoutSec) * time.Second
	}
	probed := prober.Probe(ctx, m.URL, probe.Params{QueryName: m.QueryName, QueryType: m.QueryType}, timeout)
	res.Success = probed.Success
	res.Error = probed.Error
	if probed.ResponseTimeMs >= 0 {
		rt := probed.ResponseTimeMs
		res.ResponseTimeMs = &rt
	}
	res.ConditionResults = condition.EvaluateAll(r.conditionsFor(m), probed.Context)
	for _, o := range res.ConditionResults {
		if o.Passed {
			continue
		}
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("condition failed: %s", o.Condition)
		}
		break
	}
	return res
}

// RunChecks probes a batch concurrently, bounded by the configured batch
// concurrency, and returns results in input order.
func (r *Runner) RunChecks(ctx context.Context, monitors []store.Monitor) []CheckResult {
	results := make([]CheckResult, len(monitors))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i := range monitors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.RunCheck(ctx, monitors[i])
		}(i)
	}
	wg.Wait()
	return results
}

// UpdateConditions replaces the parse cache after a reload so edited
// expressions take effect without restart.
func (r *Runner) UpdateConditions(monitors []store.Monitor) {
	next := make(map[int64][]condition.Condition, len(monitors))
	for _, m := range monitors {
		next[m.ID] = condition.ParseAll(m.Conditions)
	}
	r.mu.Lock()
	r.conditions = next
	r.mu.Unlock()
}

func (r *Runner) conditionsFor(m store.Monitor) []condition.Condition {
	r.mu.RLock()
	conds, ok := r.conditions[m.ID]
	r.mu.RUnlock()
	if ok {
		return conds
	}
	conds = condition.ParseAll(m.Conditions)
	r.mu.Lock()
	r.conditions[m.ID] = conds
	r.mu.Unlock()
	return conds
}
