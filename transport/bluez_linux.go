//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func bluezObjects(ctx context.Context) (managedObjects, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	defer conn.Close()

	var objs managedObjects
	call := conn.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: list objects: %w", err)
	}
	return objs, nil
}

// CheckBluetoothAdapter fails unless BlueZ reports a powered adapter.
func CheckBluetoothAdapter(ctx context.Context) error {
	objs, err := bluezObjects(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		found = true
		if powered, _ := props["Powered"].Value().(bool); powered {
			return nil
		}
	}
	if found {
		return errors.New("bluez: bluetooth adapter is powered off")
	}
	return fmt.Errorf("%w: no bluetooth adapter", ErrNoDevice)
}

// PairedSPPDevices lists paired devices advertising the serial port profile.
func PairedSPPDevices(ctx context.Context) ([]Device, error) {
	objs, err := bluezObjects(ctx)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		if !hasUUID(uuids, SerialPortProfileUUID) {
			continue
		}
		d := Device{}
		d.Address, _ = props["Address"].Value().(string)
		if d.Name, _ = props["Alias"].Value().(string); d.Name == "" {
			d.Name, _ = props["Name"].Value().(string)
		}
		if rssi, ok := props["RSSI"].Value().(int16); ok {
			d.RSSI = int(rssi)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func hasUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if strings.EqualFold(u, want) {
			return true
		}
	}
	return false
}
