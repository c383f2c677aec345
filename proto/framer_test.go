package proto

import (
	"bytes"
	"testing"
)

func feedAll(f *Framer, data []byte) []Event {
	var events []Event
	for _, b := range data {
		if ev, ok := f.Feed(b); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestFramer_BasicExtraction(t *testing.T) {
	f := NewFramer(FramerOptions{})
	frame := Encode(Packet{Command: CmdFloatReceive, ID: 4, Value: 21.5}, false)

	events := feedAll(f, frame)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	p := events[0].Packet
	if events[0].Kind != EventPacket || p.Command != CmdFloatReceive || p.ID != 4 || p.Value != 21.5 {
		t.Errorf("Unexpected event %+v", events[0])
	}
	if !f.Idle() {
		t.Error("Expected framer to be idle after a complete frame")
	}
}

func TestFramer_NoiseBeforeFrame(t *testing.T) {
	f := NewFramer(FramerOptions{})
	data := append([]byte{0x00, 0x42, 0xFF, 0xFF, 0x77}, Encode(Packet{Command: CmdPing}, false)...)

	events := feedAll(f, data)
	if len(events) != 1 || events[0].Packet.Command != CmdPing {
		t.Fatalf("Expected one ping packet, got %+v", events)
	}
	if f.Stats().Dropped != 5 {
		t.Errorf("Expected 5 dropped noise bytes, got %d", f.Stats().Dropped)
	}
}

func TestFramer_ConsecutiveFrames(t *testing.T) {
	f := NewFramer(FramerOptions{})
	var data []byte
	for i := 0; i < 10; i++ {
		data = append(data, Encode(Packet{Command: CmdFloatReceive, ID: uint8(i), Value: float32(i) * 2}, false)...)
	}

	events := feedAll(f, data)
	if len(events) != 10 {
		t.Fatalf("Expected 10 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Packet.ID != uint8(i) || ev.Packet.Value != float32(i)*2 {
			t.Errorf("Event %d out of order or corrupted: %+v", i, ev.Packet)
		}
	}
}

func TestFramer_SplitAcrossChunks(t *testing.T) {
	f := NewFramer(FramerOptions{})
	frame := Encode(Packet{Command: CmdFloatReceive, ID: 1, Value: 7}, false)

	if events := feedAll(f, frame[:3]); len(events) != 0 {
		t.Fatalf("Expected no events from a partial frame, got %d", len(events))
	}
	events := feedAll(f, frame[3:])
	if len(events) != 1 || events[0].Packet.Value != 7 {
		t.Fatalf("Expected completed frame, got %+v", events)
	}
}

func TestFramer_Resync(t *testing.T) {
	f := NewFramer(FramerOptions{})
	data := []byte{byte(CmdFloatReceive)}
	data = append(data, bytes.Repeat([]byte{0x00}, FramerCapacity+100)...)

	if events := feedAll(f, data); len(events) != 0 {
		t.Fatalf("Expected no events from unterminated noise, got %d", len(events))
	}
	if !f.Idle() {
		t.Fatal("Expected framer to return to idle after resync")
	}
	if f.Stats().Resyncs != 1 {
		t.Errorf("Expected 1 resync, got %d", f.Stats().Resyncs)
	}

	events := feedAll(f, Encode(Packet{Command: CmdFloatReceive, ID: 2, Value: 9}, false))
	if len(events) != 1 || events[0].Packet.ID != 2 || events[0].Packet.Value != 9 {
		t.Fatalf("Expected frame after noise to be extracted, got %+v", events)
	}
}

func TestFramer_MessageSubProtocol(t *testing.T) {
	f := NewFramer(FramerOptions{})
	data := Encode(Packet{Command: CmdMessageReceive, Value: 5}, false)
	data = append(data, []byte("hello")...)
	data = append(data, Encode(Packet{Command: CmdPing}, false)...)

	events := feedAll(f, data)
	if len(events) != 3 {
		t.Fatalf("Expected header, message and ping events, got %d", len(events))
	}
	if events[0].Kind != EventPacket || events[0].Packet.Command != CmdMessageReceive {
		t.Errorf("Expected header packet first, got %+v", events[0])
	}
	if events[1].Kind != EventMessage || events[1].Text != "hello" {
		t.Errorf("Expected message hello, got %+v", events[1])
	}
	if !bytes.Equal(events[1].Packet.Extra, []byte("hello")) {
		t.Errorf("Expected raw body in Extra, got %q", events[1].Packet.Extra)
	}
	if events[2].Packet.Command != CmdPing {
		t.Errorf("Expected ping after message, got %+v", events[2])
	}
}

func TestFramer_MessageBodyIsNotFramed(t *testing.T) {
	f := NewFramer(FramerOptions{})
	body := []byte{byte(CmdPing), 0xFF, 0xFF, byte(CmdFloatReceive)}
	data := append(Encode(Packet{Command: CmdMessageReceive, Value: float32(len(body))}, false), body...)

	events := feedAll(f, data)
	if len(events) != 2 || events[1].Kind != EventMessage {
		t.Fatalf("Expected header and message, got %+v", events)
	}
	if !bytes.Equal(events[1].Packet.Extra, body) {
		t.Errorf("Expected body % X, got % X", body, events[1].Packet.Extra)
	}
}

func TestFramer_MessageLengthOutOfRange(t *testing.T) {
	for _, v := range []float32{0, -3, MaxMessageLen, 5000} {
		f := NewFramer(FramerOptions{})
		feedAll(f, Encode(Packet{Command: CmdMessageReceive, Value: v}, false))
		if !f.Idle() {
			t.Errorf("Value %v: expected no message mode", v)
		}
	}
}

func TestFramer_FixedFrame(t *testing.T) {
	f := NewFramer(FramerOptions{FixedFrame: true})
	frame := Encode(Packet{Command: CmdFloatReceive, ID: 8, Value: 0.5}, false)[:FixedFrameLen]

	events := feedAll(f, frame)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after 6 bytes, got %d", len(events))
	}
	if p := events[0].Packet; p.ID != 8 || p.Value != 0.5 {
		t.Errorf("Unexpected packet %+v", p)
	}

	// Trailing terminators from firmware that does send them are dropped as noise.
	events = feedAll(f, append([]byte{0xFF, 0xFF}, frame...))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
}

func TestFramer_FixedFrameMessage(t *testing.T) {
	f := NewFramer(FramerOptions{FixedFrame: true})
	data := Encode(Packet{Command: CmdMessageReceive, Value: 3}, false)[:FixedFrameLen]
	data = append(data, "abc"...)

	events := feedAll(f, data)
	if len(events) != 2 || events[1].Text != "abc" {
		t.Fatalf("Expected header and message abc, got %+v", events)
	}
}

func TestFramer_LittleEndian(t *testing.T) {
	f := NewFramer(FramerOptions{LittleEndian: true})
	events := feedAll(f, Encode(Packet{Command: CmdFloatReceive, Value: 123.25}, true))
	if len(events) != 1 || events[0].Packet.Value != 123.25 {
		t.Fatalf("Unexpected events %+v", events)
	}
}

func TestFramer_InvalidUTF8Message(t *testing.T) {
	f := NewFramer(FramerOptions{})
	data := append(Encode(Packet{Command: CmdMessageReceive, Value: 2}, false), 0xC3, 0x28)

	events := feedAll(f, data)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[1].Text != "\uFFFD(" {
		t.Errorf("Expected invalid byte to be replaced, got %q", events[1].Text)
	}
}
