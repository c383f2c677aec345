package transport

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic UART service layout. The device notifies on TX and accepts writes
// on RX.
const (
	NUSServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	NUSRXUUID      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NUSTXUUID      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

type BLEOptions struct {
	// Address or advertised name of the device. Empty selects among all
	// devices advertising the service.
	Address     string        `json:"address"`
	ScanTimeout time.Duration `json:"scan_timeout"`
	// MTU bounds a single write without response.
	MTU int `json:"mtu"`
}

const defaultBLEScanTimeout = 10 * time.Second

type BLE struct {
	*Lifecycle
	opts     BLEOptions
	selector Selector
	adapter  *bluetooth.Adapter

	mu     sync.Mutex
	device *bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
}

func NewBLE(opts BLEOptions, sel Selector) *BLE {
	if opts.ScanTimeout == 0 {
		opts.ScanTimeout = defaultBLEScanTimeout
	}
	if opts.MTU <= 0 {
		opts.MTU = 20
	}
	if sel == nil {
		sel = FirstDevice{Address: opts.Address}
	}
	return &BLE{Lifecycle: NewLifecycle(NameBLE), opts: opts, selector: sel, adapter: bluetooth.DefaultAdapter}
}

func (t *BLE) Init(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if sess := t.Session(); sess != nil && t.Down(sess) {
			slog.Warn("BLE link lost")
			t.release()
		}
	})
	return t.Initialized()
}

func (t *BLE) Connect(ctx context.Context) error {
	if err := t.BeginConnect(); err != nil {
		return err
	}
	if err := t.connect(ctx); err != nil {
		t.Abort()
		t.release()
		return err
	}
	if _, err := t.Established(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *BLE) connect(ctx context.Context) error {
	service, err := bluetooth.ParseUUID(NUSServiceUUID)
	if err != nil {
		return err
	}
	results, err := t.scan(ctx, service)
	if err != nil {
		return err
	}
	chosen, err := t.selector.SelectDevice(ctx, bleCandidates(results))
	if err != nil {
		return err
	}

	result, ok := results[chosen.Address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDevice, chosen.Address)
	}

	slog.Info("Connecting BLE device", "address", chosen.Address, "name", chosen.Name)
	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", chosen.Address, err)
	}
	t.mu.Lock()
	t.device = &device
	t.mu.Unlock()

	services, err := device.DiscoverServices([]bluetooth.UUID{service})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("discover uart service: %w", orNoDevice(err))
	}
	rxUUID, _ := bluetooth.ParseUUID(NUSRXUUID)
	txUUID, _ := bluetooth.ParseUUID(NUSTXUUID)
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
	if err != nil || len(chars) < 2 {
		return fmt.Errorf("discover uart characteristics: %w", orNoDevice(err))
	}

	// Notifications go to whichever session is live when they arrive.
	err = chars[1].EnableNotifications(func(buf []byte) {
		if sess := t.Session(); sess != nil {
			sess.Deliver(append([]byte(nil), buf...))
		}
	})
	if err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}

	t.mu.Lock()
	t.rx = chars[0]
	t.mu.Unlock()
	return nil
}

func (t *BLE) scan(ctx context.Context, service bluetooth.UUID) (map[string]bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]bluetooth.ScanResult)
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !r.HasServiceUUID(service) && !t.wanted(r) {
				return
			}
			mu.Lock()
			results[r.Address.String()] = r
			mu.Unlock()
			if t.wanted(r) {
				a.StopScan()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	case <-ctx.Done():
		t.adapter.StopScan()
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) == 0 {
		return nil, ErrNoDevice
	}
	return results, nil
}

func (t *BLE) wanted(r bluetooth.ScanResult) bool {
	if t.opts.Address == "" {
		return false
	}
	return strings.EqualFold(r.Address.String(), t.opts.Address) || r.LocalName() == t.opts.Address
}

func (t *BLE) Write(p []byte) (int, error) {
	t.mu.Lock()
	rx := t.rx
	device := t.device
	t.mu.Unlock()
	if device == nil || t.State() != StateConnected {
		return 0, ErrNotConnected
	}

	written := 0
	for written < len(p) {
		end := min(written+t.opts.MTU, len(p))
		n, err := rx.WriteWithoutResponse(p[written:end])
		written += n
		if err != nil {
			return CheckWrite(written, len(p), err)
		}
		if n == 0 {
			break
		}
	}
	return CheckWrite(written, len(p), nil)
}

func (t *BLE) Disconnect() error {
	t.Stop()
	return t.release()
}

func (t *BLE) Dispose() error {
	t.Lifecycle.Dispose()
	return t.release()
}

func (t *BLE) release() error {
	t.mu.Lock()
	device := t.device
	t.device = nil
	t.mu.Unlock()
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

// ScanBLE lists devices advertising the UART service.
func ScanBLE(ctx context.Context, timeout time.Duration) ([]Device, error) {
	t := NewBLE(BLEOptions{ScanTimeout: timeout}, nil)
	if err := t.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth: %w", err)
	}
	service, err := bluetooth.ParseUUID(NUSServiceUUID)
	if err != nil {
		return nil, err
	}
	results, err := t.scan(ctx, service)
	if err != nil {
		return nil, err
	}
	return bleCandidates(results), nil
}

// bleCandidates orders scan results by signal strength, strongest first.
func bleCandidates(results map[string]bluetooth.ScanResult) []Device {
	devices := make([]Device, 0, len(results))
	for addr, r := range results {
		devices = append(devices, Device{Address: addr, Name: r.LocalName(), RSSI: int(r.RSSI)})
	}
	slices.SortFunc(devices, func(a, b Device) int { return b.RSSI - a.RSSI })
	return devices
}

func orNoDevice(err error) error {
	if err == nil {
		return ErrNoDevice
	}
	return err
}
