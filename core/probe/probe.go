package probe

import (
	"context"
	"errors"
	"net/url"
	"time"

	"pulsemon/config"
)

// Context keys a probe may populate. The condition evaluator resolves
// [KEY] placeholders against these.
const (
	KeyStatus         = "STATUS"
	KeyResponseTime   = "RESPONSE_TIME"
	KeyConnected      = "CONNECTED"
	KeyBody           = "BODY"
	KeyHeaders        = "HEADERS"
	KeyCertExpiration = "CERTIFICATE_EXPIRATION"
	KeyCertExpiryDays = "CERTIFICATE_EXPIRY_DAYS"
	KeyDNSRcode       = "DNS_RCODE"
	KeyError          = "ERROR"
	KeyTimestamp      = "TIMESTAMP"
)

// Context maps key names to the typed values one probe observed.
type Context map[string]any

// Result is the transport-level outcome of a single probe. Success does not
// account for monitor conditions; that layer runs afterwards.
type Result struct {
	Success        bool
	ResponseTimeMs int
	Error          string
	Context        Context
}

// Params carries protocol extras beyond the target URL.
type Params struct {
	QueryName string
	QueryType string
}

type Prober interface {
	Probe(ctx context.Context, target string, params Params, timeout time.Duration) Result
}

// Registry maps monitor types to their probers.
type Registry struct {
	probers map[string]Prober
}

func NewRegistry(cfg config.ProbesConfig) *Registry {
	return &Registry{probers: map[string]Prober{
		"http":      &HTTPProber{},
		"tcp":       &TCPProber{},
		"websocket": &WebSocketProber{},
		"dns":       &DNSProber{Fallback: cfg.DNSFallback},
		"ping":      &PingProber{},
	}}
}

func (r *Registry) Lookup(kind string) (Prober, bool) {
	p, ok := r.probers[kind]
	return p, ok
}

// Register installs or replaces the prober for a monitor type.
func (r *Registry) Register(kind string, p Prober) {
	r.probers[kind] = p
}

func baseContext(start time.Time) Context {
	return Context{KeyTimestamp: start.Format(time.RFC3339)}
}

func failureResult(start time.Time, msg string) Result {
	elapsed := int(time.Since(start).Milliseconds())
	c := baseContext(start)
	c[KeyConnected] = false
	c[KeyError] = msg
	c[KeyResponseTime] = elapsed
	return Result{Success: false, ResponseTimeMs: elapsed, Error: msg, Context: c}
}

// shortError unwraps the outer url.Error so check rows carry the transport
// cause ("connection refused", "context deadline exceeded") rather than the
// full request string.
func shortError(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}
