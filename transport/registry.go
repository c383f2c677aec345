package transport

import (
	"log/slog"
	"slices"
	"sync"
)

// Registered transport names.
const (
	NameNone             = "none"
	NameSimulator        = "simulator"
	NameUSB              = "usb"
	NameBluetoothClassic = "bluetooth-classic"
	NameBLE              = "ble"
	NameWebSocketLocal   = "websocket-local"
	NameWebSocketCloud   = "websocket-cloud"
)

type Factory func() Transport

// Registry maps transport names to factories. Every lookup creates a fresh
// instance; instances are never reused across selections.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding only the no-op transport.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(NameNone, func() Transport { return NewNoop() })
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		slog.Warn("Replacing registered transport", "name", name)
	}
	r.factories[name] = f
}

func (r *Registry) New(name string) (Transport, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type Options struct {
	Simulator        SimulatorOptions
	Serial           SerialOptions
	BluetoothClassic BluetoothClassicOptions
	BLE              BLEOptions
	WebSocketLocal   WebSocketOptions
	WebSocketCloud   WebSocketOptions
	// Selector picks among discovered candidates for every transport. When
	// nil each transport selects the address in its own options.
	Selector Selector
}

// NewDefaultRegistry registers every built-in transport.
func NewDefaultRegistry(opts Options) *Registry {
	sel := opts.Selector
	r := NewRegistry()
	r.Register(NameSimulator, func() Transport { return NewSimulator(opts.Simulator) })
	r.Register(NameUSB, func() Transport { return NewSerial(NameUSB, opts.Serial, sel) })
	r.Register(NameBluetoothClassic, func() Transport { return NewBluetoothClassic(opts.BluetoothClassic, sel) })
	r.Register(NameBLE, func() Transport { return NewBLE(opts.BLE, sel) })
	r.Register(NameWebSocketLocal, func() Transport { return NewWebSocketLocal(opts.WebSocketLocal, sel) })
	r.Register(NameWebSocketCloud, func() Transport { return NewWebSocketCloud(opts.WebSocketCloud) })
	return r
}
