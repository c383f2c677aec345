package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/devlink/proto"
)

func connectedSimulator(t *testing.T, opts SimulatorOptions) *Simulator {
	t.Helper()
	s := NewSimulator(opts)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { s.Dispose() })
	return s
}

func readFrame(t *testing.T, rx <-chan []byte, n int) []byte {
	t.Helper()
	var out []byte
	deadline := time.After(time.Second)
	for len(out) < n {
		select {
		case chunk, ok := <-rx:
			if !ok {
				t.Fatalf("Stream closed after %d of %d bytes", len(out), n)
			}
			out = append(out, chunk...)
		case <-deadline:
			t.Fatalf("Timed out after %d of %d bytes", len(out), n)
		}
	}
	return out
}

func TestSimulator_Ping(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{})
	if _, err := s.Write(proto.Encode(proto.Packet{Command: proto.CmdPing, ID: 7}, false)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	p, _ := proto.Decode(readFrame(t, s.Read(), proto.FrameSize), 0, false)
	if p.Command != proto.CmdPing || p.ID != 7 {
		t.Errorf("Expected ping reply, got %+v", p)
	}
}

func TestSimulator_Variables(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{})
	steps := []struct {
		cmd   proto.Command
		value float32
		want  float32
	}{
		{proto.CmdFloatSend, 20.5, 20.5},
		{proto.CmdUp, 0, 21.5},
		{proto.CmdDown, 0, 20.5},
		{proto.CmdOff, 0, 0},
		{proto.CmdOn, 0, 1},
	}
	for _, step := range steps {
		s.Write(proto.Encode(proto.Packet{Command: step.cmd, ID: 3, Value: step.value}, false))
		p, _ := proto.Decode(readFrame(t, s.Read(), proto.FrameSize), 0, false)
		if p.Command != proto.CmdFloatReceive || p.ID != 3 || p.Value != step.want {
			t.Errorf("%s: expected float_receive %v, got %+v", step.cmd, step.want, p)
		}
	}
	if s.Var(3) != 1 {
		t.Errorf("Expected var 3 to be 1, got %v", s.Var(3))
	}
}

func TestSimulator_MessageEcho(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{})
	msg, _ := proto.EncodeMessage("hi there", false)
	if n, err := s.Write(msg); err != nil || n != len(msg) {
		t.Fatalf("Expected full write, got %d, %v", n, err)
	}
	out := readFrame(t, s.Read(), proto.FrameSize+len("hi there"))
	header, _ := proto.Decode(out, 0, false)
	if header.Command != proto.CmdMessageReceive || header.Value != 8 {
		t.Errorf("Unexpected header %+v", header)
	}
	if string(out[proto.FrameSize:]) != "hi there" {
		t.Errorf("Unexpected body %q", out[proto.FrameSize:])
	}
}

func TestSimulator_PasswordHandshake(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{Password: "secret"})

	s.Write(proto.EncodePassword("wrong"))
	p, _ := proto.Decode(readFrame(t, s.Read(), proto.FrameSize), 0, false)
	if p.Command != proto.CmdPasswordInvalid {
		t.Fatalf("Expected password_invalid, got %+v", p)
	}

	s.Write(proto.EncodePassword("secret"))
	p, _ = proto.Decode(readFrame(t, s.Read(), proto.FrameSize), 0, false)
	if p.Command != proto.CmdPasswordValid {
		t.Fatalf("Expected password_valid, got %+v", p)
	}

	payload := []byte{0x01, 0x02, 0x03, byte(proto.CmdPing)}
	if n, err := s.Write(payload); err != nil || n != len(payload) {
		t.Fatalf("Expected payload to be accepted, got %d, %v", n, err)
	}
	payloads := s.Payloads()
	if len(payloads) != 1 || !bytes.Equal(payloads[0], payload) {
		t.Errorf("Expected recorded payload, got %v", payloads)
	}
}

func TestSimulator_DropEndsStream(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{})
	rx := s.Read()
	s.Drop()

	if s.Connected().Get() {
		t.Error("Expected flag to be false after drop")
	}
	select {
	case _, ok := <-rx:
		if ok {
			t.Error("Expected no data after drop")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected stream to close after drop")
	}
	if _, err := s.Write([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after drop, got %v", err)
	}
}

func TestSimulator_Telemetry(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{TelemetryInterval: 10 * time.Millisecond, TelemetryID: 9})
	p, _ := proto.Decode(readFrame(t, s.Read(), proto.FrameSize), 0, false)
	if p.Command != proto.CmdFloatReceive || p.ID != 9 {
		t.Errorf("Expected telemetry on id 9, got %+v", p)
	}
}

func TestSimulator_Mute(t *testing.T) {
	s := connectedSimulator(t, SimulatorOptions{Mute: true})
	s.Write(proto.EncodePassword(DefaultSimulatorPassword))
	select {
	case chunk := <-s.Read():
		t.Errorf("Expected no reply from a muted device, got % X", chunk)
	case <-time.After(50 * time.Millisecond):
	}
}
