package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/mdns"
	"github.com/mbocsi/devlink/proto"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsDevice is a WebSocket endpoint that answers pings the way firmware does.
type wsDevice struct {
	server  *httptest.Server
	mu      sync.Mutex
	headers http.Header
	conn    *websocket.Conn
}

func newWSDevice(t *testing.T) *wsDevice {
	t.Helper()
	d := &wsDevice{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.headers = r.Header.Clone()
		d.mu.Unlock()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if len(data) > 0 && proto.Command(data[0]) == proto.CmdPing {
				conn.WriteMessage(websocket.BinaryMessage, proto.Encode(proto.Packet{Command: proto.CmdPing}, false))
			}
		}
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *wsDevice) url() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http")
}

func (d *wsDevice) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}

func TestWebSocket_LocalRoundTrip(t *testing.T) {
	dev := newWSDevice(t)
	ws := NewWebSocketLocal(WebSocketOptions{URL: dev.url()}, nil)
	ctx := context.Background()
	if err := ws.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ws.Dispose()

	if !ws.Connected().Get() {
		t.Fatal("Expected connected flag after Connect")
	}
	frame := proto.Encode(proto.Packet{Command: proto.CmdPing}, false)
	if n, err := ws.Write(frame); err != nil || n != len(frame) {
		t.Fatalf("Expected full write, got %d, %v", n, err)
	}
	p, _ := proto.Decode(readFrame(t, ws.Read(), proto.FrameSize), 0, false)
	if p.Command != proto.CmdPing {
		t.Errorf("Expected ping reply, got %+v", p)
	}
}

func TestWebSocket_CloudHeaders(t *testing.T) {
	dev := newWSDevice(t)
	ws := NewWebSocketCloud(WebSocketOptions{URL: dev.url(), DeviceID: "dev-42", ClientID: "host-1", Token: "tok"})
	ctx := context.Background()
	if err := ws.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ws.Dispose()

	dev.mu.Lock()
	headers := dev.headers
	dev.mu.Unlock()
	if headers.Get(HeaderDeviceID) != "dev-42" {
		t.Errorf("Expected device id header, got %q", headers.Get(HeaderDeviceID))
	}
	if headers.Get(HeaderSessionID) == "" || headers.Get(HeaderSessionID) != ws.SessionID() {
		t.Errorf("Expected session id header %q, got %q", ws.SessionID(), headers.Get(HeaderSessionID))
	}
	if headers.Get(HeaderClientID) != "host-1" {
		t.Errorf("Expected client id header, got %q", headers.Get(HeaderClientID))
	}
	if headers.Get("Authorization") != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", headers.Get("Authorization"))
	}
}

func TestWebSocket_CloudRequiresConfig(t *testing.T) {
	ws := NewWebSocketCloud(WebSocketOptions{})
	if err := ws.Init(context.Background()); err == nil {
		t.Error("Expected Init to fail without a relay url")
	}
}

func TestWebSocket_LinkLoss(t *testing.T) {
	dev := newWSDevice(t)
	ws := NewWebSocketLocal(WebSocketOptions{URL: dev.url()}, nil)
	ctx := context.Background()
	ws.Init(ctx)
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ws.Dispose()

	flag, unsubscribe := ws.Connected().Subscribe()
	defer unsubscribe()
	rx := ws.Read()
	dev.kick()

	expectFlag(t, flag, false)
	select {
	case _, ok := <-rx:
		if ok {
			t.Error("Expected stream to end")
		}
	case <-time.After(time.Second):
		t.Fatal("Stream did not close after link loss")
	}
	if _, err := ws.Write([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestWebSocket_ConnectFailure(t *testing.T) {
	ws := NewWebSocketLocal(WebSocketOptions{URL: "ws://127.0.0.1:1/none"}, nil)
	ctx := context.Background()
	ws.Init(ctx)
	if err := ws.Connect(ctx); err == nil {
		t.Fatal("Expected connect to fail")
	}
	if ws.State() != StateDisconnected || ws.Connected().Get() {
		t.Errorf("Expected disconnected after failure, got %s", ws.State())
	}
}

func TestNormalizeWebSocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"ws://host:1/x", "ws://host:1/x", false},
		{"http://host", "ws://host", false},
		{"https://host/relay", "wss://host/relay", false},
		{"192.168.1.5:81", "ws://192.168.1.5:81", false},
		{"ftp://host", "", true},
		{"ws://", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeWebSocketURL(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("%q: expected error %v, got %v", tt.in, tt.err, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestDeviceFromEntry(t *testing.T) {
	d, ok := deviceFromEntry(&mdns.ServiceEntry{
		Name:       "thermostat._devlink._tcp.local.",
		AddrV4:     net.ParseIP("10.0.0.7"),
		Port:       8081,
		InfoFields: []string{"fw=1.2", "path=/ws"},
	})
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if d.Address != "ws://10.0.0.7:8081/ws" {
		t.Errorf("Unexpected address %s", d.Address)
	}
	if _, ok := deviceFromEntry(&mdns.ServiceEntry{Name: "x"}); ok {
		t.Error("Expected entry without address to be rejected")
	}
}
