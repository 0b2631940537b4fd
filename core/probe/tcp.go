package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// TCPProber dials the target and closes immediately; a completed dial is the
// whole success criterion.
type TCPProber struct{}

func (p *TCPProber) Probe(ctx context.Context, target string, _ Params, timeout time.Duration) Result {
	start := time.Now().UTC()
	addr := hostPort(target)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return failureResult(start, fmt.Sprintf("invalid host:port %q", target))
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failureResult(start, shortNetError(err))
	}
	conn.Close()
	elapsed := int(time.Since(start).Milliseconds())
	c := baseContext(start)
	c[KeyConnected] = true
	c[KeyResponseTime] = elapsed
	return Result{Success: true, ResponseTimeMs: elapsed, Context: c}
}

// hostPort strips an optional scheme so both "db.example.com:5432" and
// "tcp://db.example.com:5432" work as targets.
func hostPort(target string) string {
	s := strings.TrimSpace(target)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}

func shortNetError(err error) string {
	var operr *net.OpError
	if errors.As(err, &operr) && operr.Err != nil {
		if operr.Timeout() {
			return fmt.Sprintf("dial %s: timeout", operr.Addr)
		}
		return operr.Err.Error()
	}
	return err.Error()
}
