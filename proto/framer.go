package proto

import "strings"

const (
	// FramerCapacity is the size of the primary frame buffer. A frame that
	// has not terminated by then is dropped.
	FramerCapacity = 1024

	// FixedFrameLen is the frame length on links that do not deliver the
	// terminator pair reliably: command plus five data bytes.
	FixedFrameLen = 6
)

type EventKind int

const (
	EventPacket EventKind = iota
	EventMessage
)

// Event is produced by the Framer. Message events carry the decoded text and
// the raw body in Packet.Extra.
type Event struct {
	Kind   EventKind
	Packet Packet
	Text   string
}

type FramerOptions struct {
	LittleEndian bool
	// FixedFrame emits a packet after exactly FixedFrameLen bytes instead of
	// scanning for the terminator.
	FixedFrame bool
}

type FramerStats struct {
	Bytes    uint64
	Packets  uint64
	Messages uint64
	Resyncs  uint64
	Dropped  uint64
}

// Framer turns an unbounded byte stream into packets and text messages.
// It is a synchronous reducer and is not safe for concurrent use; feed it from
// a single goroutine and create a new one for every connection.
type Framer struct {
	opts FramerOptions

	active  bool
	command Command
	buf     [FramerCapacity]byte
	idx     int
	last    byte
	msg     []byte
	msgIdx  int
	stats   FramerStats
}

func NewFramer(opts FramerOptions) *Framer {
	return &Framer{opts: opts}
}

// Feed consumes one byte. At most one event results from a single byte.
func (f *Framer) Feed(b byte) (ev Event, ok bool) {
	f.stats.Bytes++
	defer func() { f.last = b }()

	if f.msg != nil {
		f.msg[f.msgIdx] = b
		f.msgIdx++
		if f.msgIdx < len(f.msg) {
			return Event{}, false
		}
		body := f.msg
		f.msg, f.msgIdx = nil, 0
		f.stats.Messages++
		return Event{
			Kind:   EventMessage,
			Packet: Packet{Command: CmdMessageReceive, Value: float32(len(body)), Extra: body},
			Text:   strings.ToValidUTF8(string(body), "\uFFFD"),
		}, true
	}

	if f.active {
		if !f.opts.FixedFrame && b == Terminator && f.last == Terminator {
			return f.emit(), true
		}
		if f.idx >= len(f.buf) {
			f.stats.Resyncs++
			f.reset()
			return Event{}, false
		}
		f.buf[f.idx] = b
		f.idx++
		if f.opts.FixedFrame && f.idx == FixedFrameLen {
			return f.emit(), true
		}
		return Event{}, false
	}

	if Command(b).IsFrameStart() {
		f.active = true
		f.command = Command(b)
		f.buf[0] = b
		f.idx = 1
		return Event{}, false
	}
	f.stats.Dropped++
	return Event{}, false
}

// Idle reports whether the framer is waiting for a new frame.
func (f *Framer) Idle() bool {
	return !f.active && f.msg == nil
}

func (f *Framer) Stats() FramerStats {
	return f.stats
}

func (f *Framer) emit() Event {
	p, _ := Decode(f.buf[:], 0, f.opts.LittleEndian)
	f.reset()
	f.stats.Packets++

	if p.Command == CmdMessageReceive && p.Value > 0 && p.Value < MaxMessageLen {
		if n := int(p.Value); n > 0 {
			f.msg = make([]byte, n)
		}
	}
	return Event{Kind: EventPacket, Packet: p}
}

func (f *Framer) reset() {
	f.active = false
	f.command = 0
	f.idx = 0
}
