package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// DefaultRFCOMMPort is where `rfcomm bind` exposes the first channel.
	DefaultRFCOMMPort = "/dev/rfcomm0"
	// SerialPortProfileUUID identifies SPP devices.
	SerialPortProfileUUID = "00001101-0000-1000-8000-00805f9b34fb"
)

type BluetoothClassicOptions struct {
	SerialOptions
	// Bindings maps device addresses to the RFCOMM ttys they are bound to,
	// as set up by `rfcomm bind /dev/rfcomm1 <address>`.
	Bindings map[string]string `json:"bindings,omitempty"`
}

// BluetoothClassic talks SPP through an RFCOMM tty. Paired devices are looked
// up through BlueZ so the selector sees the same candidates the user paired,
// and the tty bound to the chosen device is opened.
type BluetoothClassic struct {
	*Serial
	// address is the device the configured port is bound to, when known.
	address  string
	bindings map[string]string
	paired   func(ctx context.Context) ([]Device, error)
}

// NewBluetoothClassic returns an SPP transport. Port may be a tty path or the
// address of the device bound to DefaultRFCOMMPort. Frames are always fixed
// since these modules drop the terminator pair.
func NewBluetoothClassic(opts BluetoothClassicOptions, sel Selector) *BluetoothClassic {
	serialOpts := opts.SerialOptions
	address := ""
	if !isDevicePath(serialOpts.Port) {
		address = serialOpts.Port
		serialOpts.Port = DefaultRFCOMMPort
	}
	serialOpts.FixedFrame = true
	if sel == nil {
		sel = FirstDevice{Address: address}
	}

	bindings := make(map[string]string, len(opts.Bindings))
	for addr, port := range opts.Bindings {
		bindings[strings.ToUpper(addr)] = port
	}
	t := &BluetoothClassic{
		Serial:   NewSerial(NameBluetoothClassic, serialOpts, sel),
		address:  address,
		bindings: bindings,
		paired:   PairedSPPDevices,
	}
	t.Serial.resolver = t.resolvePort
	return t
}

func (t *BluetoothClassic) Init(ctx context.Context) error {
	if err := CheckBluetoothAdapter(ctx); err != nil {
		return err
	}
	return t.Serial.Init(ctx)
}

// resolvePort offers the paired SPP devices to the selector and returns the
// tty bound to the chosen one. Without a BlueZ view the configured port is
// used as is.
func (t *BluetoothClassic) resolvePort(ctx context.Context) (string, error) {
	devices, err := t.paired(ctx)
	if err != nil || len(devices) == 0 {
		slog.Debug("Skipping paired device lookup", "port", t.opts.Port, "error", err)
		return t.opts.Port, nil
	}

	d, err := t.selector.SelectDevice(ctx, devices)
	if err != nil {
		return "", err
	}
	port, ok := t.bindings[strings.ToUpper(d.Address)]
	switch {
	case ok:
	case t.address != "" && strings.EqualFold(t.address, d.Address):
		port = t.opts.Port
	case t.address != "":
		return "", fmt.Errorf("%w: %s is not bound to %s", ErrNoDevice, d.Address, t.opts.Port)
	case len(devices) == 1:
		port = t.opts.Port
	default:
		return "", fmt.Errorf("%w: no RFCOMM binding for %s", ErrNoDevice, d.Address)
	}
	slog.Info("Using paired SPP device", "address", d.Address, "name", d.Name, "port", port)
	return port, nil
}

func isDevicePath(s string) bool {
	return len(s) > 0 && (s[0] == '/' || (len(s) > 3 && s[:3] == "COM"))
}
