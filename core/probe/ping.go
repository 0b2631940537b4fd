package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingProber sends one unprivileged ICMP echo. At least one reply within the
// timeout counts as success.
type PingProber struct{}

func (p *PingProber) Probe(ctx context.Context, target string, _ Params, timeout time.Duration) Result {
	start := time.Now().UTC()
	host := hostPort(target)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return failureResult(start, fmt.Sprintf("ping %s: %s", host, err))
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		return failureResult(start, fmt.Sprintf("ping %s: %s", host, err))
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return failureResult(start, fmt.Sprintf("ping %s: timeout, no reply", host))
	}
	rt := int(stats.AvgRtt.Milliseconds())
	c := baseContext(start)
	c[KeyConnected] = true
	c[KeyResponseTime] = rt
	return Result{Success: true, ResponseTimeMs: rt, Context: c}
}
