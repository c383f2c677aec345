package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devlink.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `{
		"transport": "usb",
		"little_endian": true,
		"ping_interval": "2s",
		"reconnect": true,
		"timeouts": {"init": 1, "validation": "250ms"},
		"serial": {"port": "/dev/ttyACM0"},
		"websocket_cloud": {"url": "wss://relay", "device_id": "d1", "client_id": "c1"},
		"log_level": "debug"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport != "usb" || !cfg.LittleEndian || !cfg.Reconnect {
		t.Errorf("Unexpected config %+v", cfg)
	}

	opts := cfg.LinkOptions(nil)
	if opts.InitTimeout != time.Second {
		t.Errorf("Expected 1s init timeout, got %s", opts.InitTimeout)
	}
	if opts.ValidationTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms validation timeout, got %s", opts.ValidationTimeout)
	}
	if opts.ConnectTimeout != link.DefaultConnectTimeout {
		t.Errorf("Expected default connect timeout, got %s", opts.ConnectTimeout)
	}
	if opts.PingInterval != 2*time.Second {
		t.Errorf("Expected 2s ping interval, got %s", opts.PingInterval)
	}

	topts := cfg.TransportOptions()
	if topts.Serial.Port != "/dev/ttyACM0" || topts.Serial.BaudRate != 115200 {
		t.Errorf("Expected serial defaults merged, got %+v", topts.Serial)
	}
	if topts.WebSocketCloud.ClientID != "c1" {
		t.Errorf("Expected configured client id, got %q", topts.WebSocketCloud.ClientID)
	}
	if !topts.BluetoothClassic.FixedFrame {
		t.Error("Expected bluetooth classic fixed frame by default")
	}
	if !topts.Simulator.LittleEndian {
		t.Error("Expected simulator to follow the byte order")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Expected error for a missing explicit path")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []string{
		`{`,
		`{"ping_interval": "soon"}`,
		`{"ping_interval": true}`,
		`{"timeouts": {"init": "-1s"}}`,
		`{"reconnect_min": "10s", "reconnect_max": "1s"}`,
		`{"log_level": "chatty"}`,
		`{"log_format": "xml"}`,
	}
	for _, body := range tests {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("Expected error for %s", body)
		}
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != `"1.5s"` {
		t.Errorf("Expected \"1.5s\", got %s", b)
	}
}

func TestTransportOptions_DeviceSelection(t *testing.T) {
	path := writeConfig(t, `{
		"ble": {"address": "AA:BB:CC:DD:EE:FF"},
		"bluetooth_classic": {"port": "00:11:22:33:44:55", "bindings": {"66:77:88:99:AA:BB": "/dev/rfcomm1"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	topts := cfg.TransportOptions()
	if topts.Selector != nil {
		t.Errorf("Expected no shared selector without a device, got %+v", topts.Selector)
	}
	if topts.BluetoothClassic.Bindings["66:77:88:99:AA:BB"] != "/dev/rfcomm1" {
		t.Errorf("Expected bindings to load, got %v", topts.BluetoothClassic.Bindings)
	}
	if topts.BluetoothClassic.Port != "00:11:22:33:44:55" || topts.BluetoothClassic.BaudRate != transport.DefaultBaudRate {
		t.Errorf("Expected port override with default baud rate, got %+v", topts.BluetoothClassic.SerialOptions)
	}

	cfg.Device = "bench"
	if sel := cfg.TransportOptions().Selector; sel != (transport.FirstDevice{Address: "bench"}) {
		t.Errorf("Expected shared selector for bench, got %+v", sel)
	}
}
