package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mbocsi/devlink/broker"
)

var (
	ErrPartialWrite   = errors.New("transport: partial write")
	ErrDisposed       = errors.New("transport: disposed")
	ErrNotConnected   = errors.New("transport: not connected")
	ErrNotInitialized = errors.New("transport: not initialized")
	ErrNoDevice       = errors.New("transport: no device found")
	ErrNotSupported   = errors.New("transport: not supported on this platform")
)

// Transport is a byte pipe to the device. Implementations must make
// Disconnect and Dispose idempotent and safe on a never-connected instance.
type Transport interface {
	Name() string
	Init(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect() error
	Dispose() error
	// Write returns the number of bytes the link accepted.
	Write(p []byte) (int, error)
	// Read returns the chunk stream of the current connection. The channel is
	// closed when the connection ends.
	Read() <-chan []byte
	// Connected may flip to false at any time when the link drops.
	Connected() *broker.Value[bool]
}

// FixedFramer is implemented by transports whose peers send 6-byte frames
// without the terminator pair.
type FixedFramer interface {
	FixedFrame() bool
}

// Device is a connect candidate offered to a Selector.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi,omitempty"`
}

type Selector interface {
	SelectDevice(ctx context.Context, candidates []Device) (Device, error)
}

// FirstDevice selects the candidate matching Address by address (any case)
// or name, or the first candidate when Address is empty.
type FirstDevice struct {
	Address string
}

func (s FirstDevice) SelectDevice(ctx context.Context, candidates []Device) (Device, error) {
	if len(candidates) == 0 {
		return Device{}, ErrNoDevice
	}
	if s.Address == "" {
		return candidates[0], nil
	}
	for _, d := range candidates {
		if strings.EqualFold(d.Address, s.Address) || d.Name == s.Address {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrNoDevice, s.Address)
}

// CheckWrite turns a short write into ErrPartialWrite carrying both counts.
func CheckWrite(n, want int, err error) (int, error) {
	if err != nil {
		return n, err
	}
	if n != want {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrPartialWrite, n, want)
	}
	return n, nil
}
