package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestWebSocketProbe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	res := (&WebSocketProber{}).Probe(context.Background(), target, Params{}, probeTimeout)
	if !res.Success {
		t.Fatalf("handshake failed: %s", res.Error)
	}
	if got := res.Context[KeyStatus]; got != http.StatusSwitchingProtocols {
		t.Fatalf("status = %v, want 101", got)
	}
	if res.Context[KeyConnected] != true {
		t.Fatalf("connected = %v, want true", res.Context[KeyConnected])
	}
}

func TestWebSocketProbeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	res := (&WebSocketProber{}).Probe(context.Background(), target, Params{}, probeTimeout)
	if res.Success {
		t.Fatal("handshake against plain HTTP endpoint succeeded")
	}
	if !strings.HasPrefix(res.Error, "websocket handshake: ") {
		t.Fatalf("error = %q, want websocket handshake prefix", res.Error)
	}
	if !strings.Contains(res.Error, "bad handshake") {
		t.Fatalf("error = %q, want bad handshake cause", res.Error)
	}
}
