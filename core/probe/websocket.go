package probe

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketProber performs an opening handshake and closes cleanly; a
// completed handshake is the success criterion.
type WebSocketProber struct{}

func (p *WebSocketProber) Probe(ctx context.Context, target string, _ Params, timeout time.Duration) Result {
	start := time.Now().UTC()
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dctx, target, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return failureResult(start, "websocket handshake: "+shortError(err))
	}
	elapsed := int(time.Since(start).Milliseconds())
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	c := baseContext(start)
	c[KeyConnected] = true
	c[KeyResponseTime] = elapsed
	if resp != nil {
		c[KeyStatus] = resp.StatusCode
	}
	return Result{Success: true, ResponseTimeMs: elapsed, Context: c}
}
