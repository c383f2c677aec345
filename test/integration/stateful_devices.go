package integration

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/devlink/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// firmwareDevice is a WebSocket device that keeps its variables across
// connections and answers like the firmware. Each WebSocket message is one
// transmission.
type firmwareDevice struct {
	server   *httptest.Server
	password string

	mu          sync.Mutex
	vars        map[uint8]float32
	conn        *websocket.Conn
	unlocked    bool
	payloads    [][]byte
	messages    []string
	connections int

	// gorilla connections allow one concurrent writer
	wmu sync.Mutex
}

func newFirmwareDevice(t *testing.T, password string) *firmwareDevice {
	t.Helper()
	d := &firmwareDevice{password: password, vars: make(map[uint8]float32)}
	d.server = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.server.Close)
	return d
}

func (d *firmwareDevice) url() string {
	return wsURL(d.server.URL) + "/ws"
}

func (d *firmwareDevice) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.conn = conn
	d.unlocked = false
	d.connections++
	d.mu.Unlock()

	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		d.handle(conn, data)
	}
}

func (d *firmwareDevice) handle(conn *websocket.Conn, data []byte) {
	if len(data) == 0 {
		return
	}
	d.mu.Lock()
	if d.unlocked {
		d.unlocked = false
		d.payloads = append(d.payloads, append([]byte(nil), data...))
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	switch proto.Command(data[0]) {
	case proto.CmdPasswordSend:
		if string(data[1:]) != proto.PasswordDigest(d.password) {
			d.write(conn, proto.Encode(proto.Packet{Command: proto.CmdPasswordInvalid}, false))
			return
		}
		d.mu.Lock()
		d.unlocked = true
		d.mu.Unlock()
		d.write(conn, proto.Encode(proto.Packet{Command: proto.CmdPasswordValid}, false))
		return
	case proto.CmdMessageSend:
		if len(data) <= proto.FrameSize {
			return
		}
		body := data[proto.FrameSize:]
		d.mu.Lock()
		d.messages = append(d.messages, string(body))
		d.mu.Unlock()
		header := proto.Encode(proto.Packet{Command: proto.CmdMessageReceive, Value: float32(len(body))}, false)
		d.write(conn, append(header, body...))
		return
	}

	p, err := proto.Decode(data, 0, false)
	if err != nil {
		return
	}
	if p.Command == proto.CmdPing {
		d.write(conn, proto.Encode(proto.Packet{Command: proto.CmdPing}, false))
		return
	}

	d.mu.Lock()
	v := d.vars[p.ID]
	switch p.Command {
	case proto.CmdOn:
		v = 1
	case proto.CmdOff:
		v = 0
	case proto.CmdUp:
		v++
	case proto.CmdDown:
		v--
	case proto.CmdFloatSend, proto.CmdMode:
		v = p.Value
	}
	d.vars[p.ID] = v
	d.mu.Unlock()
	d.write(conn, proto.Encode(proto.Packet{Command: proto.CmdFloatReceive, ID: p.ID, Value: v}, false))
}

func (d *firmwareDevice) write(conn *websocket.Conn, b []byte) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	conn.WriteMessage(websocket.BinaryMessage, b) //nolint:errcheck
}

// push sends raw chunks to the connected client as separate transmissions.
func (d *firmwareDevice) push(chunks ...[]byte) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return
	}
	for _, c := range chunks {
		d.write(conn, c)
	}
}

// kick drops the current connection the way a power loss would.
func (d *firmwareDevice) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}

func (d *firmwareDevice) variable(id uint8) float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vars[id]
}

func (d *firmwareDevice) received() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.payloads...)
}

func (d *firmwareDevice) receivedMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.messages...)
}

func (d *firmwareDevice) connectionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connections
}
