package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSProber queries the first resolver from resolv.conf, or the configured
// fallback address when the system gives none. Success requires rcode
// NOERROR and a non-empty answer section.
type DNSProber struct {
	// Server pins the resolver to a fixed host:port. When empty the system
	// configuration and then Fallback decide.
	Server   string
	Fallback string
}

func (p *DNSProber) Probe(ctx context.Context, target string, params Params, timeout time.Duration) Result {
	start := time.Now().UTC()
	name := strings.TrimSpace(params.QueryName)
	if name == "" {
		name = strings.TrimSpace(target)
	}
	qtype, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(params.QueryType))]
	if !ok || qtype == dns.TypeNone {
		qtype = dns.TypeA
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	client := &dns.Client{Timeout: timeout}
	reply, rtt, err := client.ExchangeContext(ctx, m, p.resolver())
	if err != nil {
		return failureResult(start, fmt.Sprintf("dns lookup %s: %s", name, shortNetError(err)))
	}

	elapsed := int(rtt.Milliseconds())
	rcode := dns.RcodeToString[reply.Rcode]
	c := baseContext(start)
	c[KeyDNSRcode] = rcode
	c[KeyResponseTime] = elapsed
	c[KeyConnected] = true
	if reply.Rcode != dns.RcodeSuccess || len(reply.Answer) == 0 {
		msg := fmt.Sprintf("dns lookup %s: rcode %s with %d answers", name, rcode, len(reply.Answer))
		c[KeyError] = msg
		return Result{Success: false, ResponseTimeMs: elapsed, Error: msg, Context: c}
	}
	return Result{Success: true, ResponseTimeMs: elapsed, Context: c}
}

func (p *DNSProber) resolver() string {
	if p.Server != "" {
		return p.Server
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && len(conf.Servers) > 0 {
		return net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	if p.Fallback != "" {
		return p.Fallback
	}
	return "8.8.8.8:53"
}
