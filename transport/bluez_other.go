//go:build !linux

package transport

import "context"

// CheckBluetoothAdapter is a no-op where the OS manages the radio.
func CheckBluetoothAdapter(ctx context.Context) error { return nil }

func PairedSPPDevices(ctx context.Context) ([]Device, error) {
	return nil, ErrNotSupported
}
