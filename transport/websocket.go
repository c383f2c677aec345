package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WebSocketOptions struct {
	// URL of the device or relay. A local transport without a URL discovers
	// devices over mDNS.
	URL              string        `json:"url"`
	DeviceID         string        `json:"device_id"`
	// ClientID identifies this host to a cloud relay.
	ClientID         string        `json:"client_id"`
	Token            string        `json:"token"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout"`
}

// Cloud relay headers.
const (
	HeaderDeviceID  = "X-Device-Id"
	HeaderSessionID = "X-Session-Id"
	HeaderClientID  = "X-Client-Id"
)

// WebSocket carries raw frames in binary messages, either straight to a LAN
// device or through a cloud relay.
type WebSocket struct {
	*Lifecycle
	opts     WebSocketOptions
	cloud    bool
	selector Selector
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
}

func NewWebSocketLocal(opts WebSocketOptions, sel Selector) *WebSocket {
	if sel == nil {
		sel = FirstDevice{}
	}
	return newWebSocket(NameWebSocketLocal, opts, false, sel)
}

func NewWebSocketCloud(opts WebSocketOptions) *WebSocket {
	return newWebSocket(NameWebSocketCloud, opts, true, FirstDevice{})
}

func newWebSocket(name string, opts WebSocketOptions, cloud bool, sel Selector) *WebSocket {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &WebSocket{
		Lifecycle: NewLifecycle(name),
		opts:      opts,
		cloud:     cloud,
		selector:  sel,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

func (t *WebSocket) Init(ctx context.Context) error {
	if t.cloud {
		if t.opts.URL == "" {
			return errors.New("websocket-cloud: relay url is not configured")
		}
		if t.opts.DeviceID == "" {
			return errors.New("websocket-cloud: device id is not configured")
		}
	}
	if t.opts.URL != "" {
		if _, err := normalizeWebSocketURL(t.opts.URL); err != nil {
			return err
		}
	}
	return t.Initialized()
}

func (t *WebSocket) Connect(ctx context.Context) error {
	if err := t.BeginConnect(); err != nil {
		return err
	}

	target, err := t.resolve(ctx)
	if err != nil {
		t.Abort()
		return err
	}

	header := http.Header{}
	sessionID := uuid.NewString()
	if t.cloud {
		header.Set(HeaderDeviceID, t.opts.DeviceID)
		header.Set(HeaderSessionID, sessionID)
		if t.opts.ClientID != "" {
			header.Set(HeaderClientID, t.opts.ClientID)
		}
	}
	if t.opts.Token != "" {
		header.Set("Authorization", "Bearer "+t.opts.Token)
	}

	conn, _, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		t.Abort()
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.sessionID = sessionID
	t.mu.Unlock()

	sess, err := t.Established()
	if err != nil {
		t.closeConn()
		return err
	}

	slog.Info("WebSocket device connected", "transport", t.Name(), "url", target, "session", sessionID)
	go t.readLoop(sess, conn)
	return nil
}

func (t *WebSocket) resolve(ctx context.Context) (string, error) {
	if t.opts.URL != "" {
		return normalizeWebSocketURL(t.opts.URL)
	}
	devices, err := Discover(ctx, DeviceService, t.opts.DiscoveryTimeout)
	if err != nil {
		return "", err
	}
	d, err := t.selector.SelectDevice(ctx, devices)
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

func (t *WebSocket) readLoop(sess *Session, conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if t.Down(sess) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("WebSocket connection error", "transport", t.Name(), "error", err)
				} else {
					slog.Info("WebSocket connection closed", "transport", t.Name(), "error", err)
				}
			}
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			conn.Close()
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if !sess.Deliver(data) {
			return
		}
	}
}

func (t *WebSocket) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.State() != StateConnected {
		return 0, ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	return len(p), nil
}

func (t *WebSocket) Disconnect() error {
	t.Stop()
	return t.closeConn()
}

func (t *WebSocket) Dispose() error {
	t.Lifecycle.Dispose()
	return t.closeConn()
}

func (t *WebSocket) closeConn() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	if err != nil {
		slog.Debug("Failed to send close message", "error", err)
	}
	return conn.Close()
}

// SessionID returns the relay session id of the current connection.
func (t *WebSocket) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func normalizeWebSocketURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL %q: missing host", raw)
	}
	return u.String(), nil
}
