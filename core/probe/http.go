package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxRedirects    = 5
	maxBodyBytes    = 1 << 20
	tlsProbeTimeout = 5 * time.Second
)

// HTTPProber issues a GET and accepts every HTTP status as transport
// success. For https targets it opens a parallel TLS connection to read the
// certificate expiry without delaying the primary result beyond the side
// channel's own timeout.
type HTTPProber struct{}

func (p *HTTPProber) Probe(ctx context.Context, target string, _ Params, timeout time.Duration) Result {
	start := time.Now().UTC()

	var certCh chan certInfo
	if u, err := url.Parse(target); err == nil && u.Scheme == "https" {
		certCh = make(chan certInfo, 1)
		go fetchCertExpiry(u, certCh)
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res := failureResult(start, err.Error())
		mergeCert(res.Context, certCh)
		return res
	}
	resp, err := client.Do(req)
	if err != nil {
		res := failureResult(start, shortError(err))
		mergeCert(res.Context, certCh)
		return res
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := int(time.Since(start).Milliseconds())

	c := baseContext(start)
	c[KeyStatus] = resp.StatusCode
	c[KeyResponseTime] = elapsed
	c[KeyConnected] = true
	c[KeyHeaders] = flattenHeaders(resp.Header)
	c[KeyBody] = decodeBody(resp.Header.Get("Content-Type"), body)
	mergeCert(c, certCh)
	return Result{Success: true, ResponseTimeMs: elapsed, Context: c}
}

type certInfo struct {
	notAfter time.Time
	ok       bool
}

// fetchCertExpiry reads the peer certificate over a dedicated TLS dial.
// Verification stays off: expiry must be observable even for certs that
// would fail validation.
func fetchCertExpiry(u *url.URL, out chan<- certInfo) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	d := &net.Dialer{Timeout: tlsProbeTimeout}
	conn, err := tls.DialWithDialer(d, "tcp", net.JoinHostPort(host, port), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if err != nil {
		out <- certInfo{}
		return
	}
	defer conn.Close()
	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		out <- certInfo{}
		return
	}
	out <- certInfo{notAfter: certs[0].NotAfter, ok: true}
}

func mergeCert(c Context, ch <-chan certInfo) {
	if ch == nil {
		return
	}
	select {
	case info := <-ch:
		if !info.ok {
			return
		}
		now := time.Now().UTC()
		days := int(math.Floor(info.notAfter.Sub(now).Hours() / 24))
		c[KeyCertExpiryDays] = days
		c[KeyCertExpiration] = formatExpiration(info.notAfter, now)
	case <-time.After(tlsProbeTimeout):
	}
}

func formatExpiration(notAfter, now time.Time) string {
	left := notAfter.Sub(now)
	days := int(math.Floor(left.Hours() / 24))
	if days >= 1 {
		return fmt.Sprintf("%dd", days)
	}
	hours := int(math.Floor(left.Hours()))
	if hours < 0 {
		hours = 0
	}
	return fmt.Sprintf("%dh", hours)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// decodeBody returns parsed JSON for JSON responses and the raw string
// otherwise, so [BODY] paths resolve against structured data when they can.
func decodeBody(contentType string, body []byte) any {
	if strings.Contains(strings.ToLower(contentType), "json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}
