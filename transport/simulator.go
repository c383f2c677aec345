package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/devlink/proto"
)

type SimulatorOptions struct {
	// Password the simulated device accepts for transfers.
	Password string
	// TelemetryInterval, when set, makes the device report TelemetryID
	// periodically while connected.
	TelemetryInterval time.Duration
	TelemetryID       uint8
	LittleEndian      bool
	// Mute suppresses all replies. Used to exercise timeouts.
	Mute bool
}

const DefaultSimulatorPassword = "12345678"

// Simulator is an in-process device. Each Write call is handled as one unit,
// the way the firmware treats one received transmission.
type Simulator struct {
	*Lifecycle
	opts SimulatorOptions

	mu       sync.Mutex
	vars     map[uint8]float32
	unlocked bool
	payloads [][]byte
	writes   [][]byte
	out      chan []byte
	stop     chan struct{}
}

func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Password == "" {
		opts.Password = DefaultSimulatorPassword
	}
	return &Simulator{
		Lifecycle: NewLifecycle(NameSimulator),
		opts:      opts,
		vars:      make(map[uint8]float32),
	}
}

func (s *Simulator) Init(ctx context.Context) error {
	return s.Initialized()
}

func (s *Simulator) Connect(ctx context.Context) error {
	if err := s.BeginConnect(); err != nil {
		return err
	}
	out := make(chan []byte, 64)
	stop := make(chan struct{})
	s.mu.Lock()
	s.out, s.stop = out, stop
	s.unlocked = false
	s.mu.Unlock()

	sess, err := s.Established()
	if err != nil {
		s.halt()
		return err
	}

	go s.pump(sess, out, stop)
	if s.opts.TelemetryInterval > 0 {
		go s.telemetry(stop)
	}
	slog.Info("Simulator connected")
	return nil
}

func (s *Simulator) pump(sess *Session, out <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sess.Done():
			return
		case p := <-out:
			if !sess.Deliver(p) {
				return
			}
		}
	}
}

func (s *Simulator) telemetry(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.TelemetryInterval)
	defer ticker.Stop()
	var n float32
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n++
			s.reply(proto.Packet{Command: proto.CmdFloatReceive, ID: s.opts.TelemetryID, Value: n})
		}
	}
}

func (s *Simulator) Disconnect() error {
	s.halt()
	s.Stop()
	return nil
}

func (s *Simulator) Dispose() error {
	s.halt()
	s.Lifecycle.Dispose()
	return nil
}

// Drop simulates the device going out of range.
func (s *Simulator) Drop() {
	if sess := s.Session(); sess != nil && s.Down(sess) {
		s.halt()
		slog.Info("Simulator dropped link")
	}
}

func (s *Simulator) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop, s.out = nil, nil
	}
}

func (s *Simulator) Write(p []byte) (int, error) {
	if s.State() != StateConnected {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	s.writes = append(s.writes, append([]byte(nil), p...))
	if s.unlocked {
		s.unlocked = false
		s.payloads = append(s.payloads, append([]byte(nil), p...))
		s.mu.Unlock()
		slog.Debug("Simulator received transfer payload", "size", len(p))
		return len(p), nil
	}
	s.mu.Unlock()

	switch proto.Command(p[0]) {
	case proto.CmdPasswordSend:
		s.handlePassword(string(p[1:]))
		return len(p), nil
	case proto.CmdMessageSend:
		s.handleMessage(p)
		return len(p), nil
	}

	pkt, err := proto.Decode(p, 0, s.opts.LittleEndian)
	if err != nil {
		slog.Debug("Simulator ignored short write", "size", len(p))
		return len(p), nil
	}
	s.handlePacket(pkt)
	return len(p), nil
}

func (s *Simulator) handlePassword(digest string) {
	if digest == proto.PasswordDigest(s.opts.Password) {
		s.mu.Lock()
		s.unlocked = true
		s.mu.Unlock()
		s.reply(proto.Packet{Command: proto.CmdPasswordValid})
		return
	}
	s.reply(proto.Packet{Command: proto.CmdPasswordInvalid})
}

func (s *Simulator) handleMessage(p []byte) {
	header, err := proto.Decode(p, 0, s.opts.LittleEndian)
	if err != nil || len(p) < proto.FrameSize {
		return
	}
	body := p[proto.FrameSize:]
	if int(header.Value) != len(body) {
		slog.Warn("Simulator received message with wrong length", "header", header.Value, "body", len(body))
		return
	}
	echo := proto.Encode(proto.Packet{Command: proto.CmdMessageReceive, Value: float32(len(body))}, s.opts.LittleEndian)
	s.send(append(echo, body...))
}

func (s *Simulator) handlePacket(p proto.Packet) {
	s.mu.Lock()
	v := s.vars[p.ID]
	switch p.Command {
	case proto.CmdPing:
		s.mu.Unlock()
		s.reply(proto.Packet{Command: proto.CmdPing, ID: p.ID})
		return
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
	default:
		s.mu.Unlock()
		return
	}
	s.vars[p.ID] = v
	s.mu.Unlock()
	s.reply(proto.Packet{Command: proto.CmdFloatReceive, ID: p.ID, Value: v})
}

func (s *Simulator) reply(p proto.Packet) {
	s.send(proto.Encode(p, s.opts.LittleEndian))
}

func (s *Simulator) send(b []byte) {
	if s.opts.Mute {
		return
	}
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- b:
	default:
		slog.Warn("Simulator reply queue full, dropping reply")
	}
}

// Payloads returns the transfer payloads accepted so far.
func (s *Simulator) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

// Writes returns every write received so far.
func (s *Simulator) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// Var returns the simulated value of variable id.
func (s *Simulator) Var(id uint8) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[id]
}
