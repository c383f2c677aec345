package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type SerialOptions struct {
	// Port is the device path. When empty the selector picks among the
	// enumerated ports.
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	// FixedFrame marks peers that send 6-byte frames without terminators.
	FixedFrame bool `json:"fixed_frame"`
}

const DefaultBaudRate = 115200

// Serial is a byte stream over a serial port. It serves both USB CDC devices
// and bound RFCOMM ttys.
type Serial struct {
	*Lifecycle
	opts     SerialOptions
	selector Selector
	// resolver returns the port to open on Connect.
	resolver func(ctx context.Context) (string, error)

	mu   sync.Mutex
	port serial.Port
	path string
}

func NewSerial(name string, opts SerialOptions, sel Selector) *Serial {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if sel == nil {
		sel = FirstDevice{Address: opts.Port}
	}
	s := &Serial{Lifecycle: NewLifecycle(name), opts: opts, selector: sel}
	s.resolver = s.resolve
	return s
}

func (t *Serial) FixedFrame() bool { return t.opts.FixedFrame }

func (t *Serial) Init(ctx context.Context) error {
	return t.Initialized()
}

func (t *Serial) Connect(ctx context.Context) error {
	if err := t.BeginConnect(); err != nil {
		return err
	}

	path, err := t.resolver(ctx)
	if err != nil {
		t.Abort()
		return err
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: t.opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		t.Abort()
		return fmt.Errorf("open %s: %w", path, describePortError(err))
	}

	t.mu.Lock()
	t.port, t.path = port, path
	t.mu.Unlock()

	sess, err := t.Established()
	if err != nil {
		t.closePort()
		return err
	}

	slog.Info("Serial port opened", "transport", t.Name(), "port", path, "baud", t.opts.BaudRate)
	go t.readLoop(sess, port)
	return nil
}

func (t *Serial) resolve(ctx context.Context) (string, error) {
	if t.opts.Port != "" {
		return t.opts.Port, nil
	}
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	d, err := t.selector.SelectDevice(ctx, ports)
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

func (t *Serial) readLoop(sess *Session, port serial.Port) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			if t.Down(sess) {
				slog.Warn("Serial link lost", "transport", t.Name(), "error", err)
			}
			t.mu.Lock()
			if t.port == port {
				t.port = nil
			}
			t.mu.Unlock()
			port.Close()
			return
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if !sess.Deliver(chunk) {
			return
		}
	}
}

func (t *Serial) Write(p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil || t.State() != StateConnected {
		return 0, ErrNotConnected
	}
	n, err := port.Write(p)
	return CheckWrite(n, len(p), err)
}

func (t *Serial) Disconnect() error {
	t.Stop()
	return t.closePort()
}

func (t *Serial) Dispose() error {
	t.Lifecycle.Dispose()
	return t.closePort()
}

func (t *Serial) closePort() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	slog.Debug("Closing serial port", "transport", t.Name(), "port", t.path)
	if err := port.Close(); err != nil {
		if code, ok := portErrorCode(err); ok && code == serial.PortClosed {
			return nil
		}
		return err
	}
	return nil
}

// ListPorts enumerates serial ports, preferring USB details when the
// platform provides them.
func ListPorts() ([]Device, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		devices := make([]Device, 0, len(details))
		for _, d := range details {
			name := d.Name
			if d.IsUSB {
				name = fmt.Sprintf("%s (%s:%s %s)", d.Name, d.VID, d.PID, d.Product)
			}
			devices = append(devices, Device{Address: d.Name, Name: name})
		}
		return devices, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", describePortError(err))
	}
	devices := make([]Device, 0, len(names))
	for _, n := range names {
		devices = append(devices, Device{Address: n, Name: n})
	}
	return devices, nil
}

// portErrorCode extracts the library error code. The library returns both
// pointer and value errors depending on the platform.
func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}

func describePortError(err error) error {
	code, ok := portErrorCode(err)
	if !ok {
		return err
	}
	switch code {
	case serial.PortNotFound:
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case serial.PortBusy:
		return fmt.Errorf("port busy: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied: %w", err)
	}
	return err
}
