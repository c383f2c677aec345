package proto

import (
	"encoding/binary"
	"io"
	"math"
)

const (
	// FrameSize is the length of a padded frame on the wire.
	FrameSize = 8
	// PacketSize is the logical part of a frame: command, value and id.
	PacketSize = 6
	// Terminator is written twice after the logical packet.
	Terminator byte = 0xFF
)

// Packet is the unit of exchange with the device.
//
// Wire format (value big-endian unless configured otherwise):
//
//	┌─────────┬──────────────────┬─────┬──────┬──────┐
//	│ command │ value (float32)  │ id  │ 0xFF │ 0xFF │
//	│ 1 byte  │ 4 bytes          │ 1 B │      │      │
//	└─────────┴──────────────────┴─────┴──────┴──────┘
//
// Extra carries the body of a text message and is never part of the fixed frame.
type Packet struct {
	Command Command `json:"command"`
	ID      uint8   `json:"id"`
	Value   float32 `json:"value"`
	Extra   []byte  `json:"extra,omitempty"`
}

func byteOrder(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode returns the padded 8-byte frame for p.
func Encode(p Packet, littleEndian bool) []byte {
	buf := make([]byte, FrameSize)
	EncodeInto(buf, 0, p, littleEndian) //nolint:errcheck
	return buf
}

// EncodeInto writes p at buf[offset:]. The terminator is only written when at
// least FrameSize bytes are available from offset. It returns the number of
// bytes written.
func EncodeInto(buf []byte, offset int, p Packet, littleEndian bool) (int, error) {
	if offset < 0 || len(buf)-offset < PacketSize {
		return 0, io.ErrShortBuffer
	}
	b := buf[offset:]
	b[0] = byte(p.Command)
	byteOrder(littleEndian).PutUint32(b[1:5], math.Float32bits(p.Value))
	b[5] = p.ID
	if len(b) < FrameSize {
		return PacketSize, nil
	}
	b[6] = Terminator
	b[7] = Terminator
	return FrameSize, nil
}

// Decode reads a packet from buf[offset:]. Terminator bytes are never read.
func Decode(buf []byte, offset int, littleEndian bool) (Packet, error) {
	if offset < 0 || len(buf)-offset < PacketSize {
		return Packet{}, io.ErrUnexpectedEOF
	}
	b := buf[offset:]
	return Packet{
		Command: Command(b[0]),
		Value:   math.Float32frombits(byteOrder(littleEndian).Uint32(b[1:5])),
		ID:      b[5],
	}, nil
}
