// Package config loads the devlink configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/transport"
	"github.com/prometheus/client_golang/prometheus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultPath = "devlink.json"

// Duration is a time.Duration written as "5s" in JSON. Bare numbers are
// read as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Timeouts struct {
	Init       Duration `json:"init"`
	Connect    Duration `json:"connect"`
	Validation Duration `json:"validation"`
}

type SimulatorConfig struct {
	Password          string   `json:"password"`
	TelemetryInterval Duration `json:"telemetry_interval"`
	TelemetryID       uint8    `json:"telemetry_id"`
}

type BLEConfig struct {
	Address     string   `json:"address"`
	ScanTimeout Duration `json:"scan_timeout"`
	MTU         int      `json:"mtu"`
}

type WebSocketConfig struct {
	URL              string   `json:"url"`
	DeviceID         string   `json:"device_id"`
	ClientID         string   `json:"client_id"`
	Token            string   `json:"token"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	DiscoveryTimeout Duration `json:"discovery_timeout"`
}

type Config struct {
	// Listen is the HTTP API address. Empty disables the API.
	Listen string `json:"listen"`
	// Transport is selected on startup. Empty starts disconnected.
	Transport string `json:"transport"`
	// Device picks among discovered candidates by address or name.
	Device       string   `json:"device"`
	LittleEndian bool     `json:"little_endian"`
	PingInterval Duration `json:"ping_interval"`
	Reconnect    bool     `json:"reconnect"`
	ReconnectMin Duration `json:"reconnect_min"`
	ReconnectMax Duration `json:"reconnect_max"`
	Timeouts     Timeouts `json:"timeouts"`

	Simulator        SimulatorConfig         `json:"simulator"`
	Serial           transport.SerialOptions `json:"serial"`
	BluetoothClassic transport.BluetoothClassicOptions `json:"bluetooth_classic"`
	BLE              BLEConfig               `json:"ble"`
	WebSocketLocal   WebSocketConfig         `json:"websocket_local"`
	WebSocketCloud   WebSocketConfig         `json:"websocket_cloud"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

func Default() Config {
	return Config{
		Listen:       "127.0.0.1:8090",
		ReconnectMin: Duration(link.DefaultReconnectMin),
		ReconnectMax: Duration(link.DefaultReconnectMax),
		Timeouts: Timeouts{
			Init:       Duration(link.DefaultInitTimeout),
			Connect:    Duration(link.DefaultConnectTimeout),
			Validation: Duration(link.DefaultValidationTimeout),
		},
		Serial: transport.SerialOptions{BaudRate: transport.DefaultBaudRate},
		BluetoothClassic: transport.BluetoothClassicOptions{
			SerialOptions: transport.SerialOptions{
				Port:       transport.DefaultRFCOMMPort,
				BaudRate:   transport.DefaultBaudRate,
				FixedFrame: true,
			},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads path over the defaults. A missing file at DefaultPath is not
// an error; any other missing file is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			slog.Debug("No config file, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Timeouts.Init < 0 || c.Timeouts.Connect < 0 || c.Timeouts.Validation < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.PingInterval < 0 {
		return errors.New("ping_interval must not be negative")
	}
	if c.ReconnectMax > 0 && c.ReconnectMax < c.ReconnectMin {
		return errors.New("reconnect_max must not be below reconnect_min")
	}
	if c.BLE.MTU < 0 {
		return errors.New("ble.mtu must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return level, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return level, nil
}

// TransportOptions converts the configuration for the transport registry.
// A cloud client id defaults to an id derived from the host's machine id.
func (c Config) TransportOptions() transport.Options {
	cloud := c.WebSocketCloud.options()
	if cloud.ClientID == "" {
		if id, err := machineid.ProtectedID("devlink"); err == nil {
			cloud.ClientID = id
		} else {
			slog.Debug("No machine id for cloud client id", "error", err)
		}
	}
	return transport.Options{
		Simulator: transport.SimulatorOptions{
			Password:          c.Simulator.Password,
			TelemetryInterval: c.Simulator.TelemetryInterval.Std(),
			TelemetryID:       c.Simulator.TelemetryID,
			LittleEndian:      c.LittleEndian,
		},
		Serial:           c.Serial,
		BluetoothClassic: c.BluetoothClassic,
		BLE: transport.BLEOptions{
			Address:     c.BLE.Address,
			ScanTimeout: c.BLE.ScanTimeout.Std(),
			MTU:         c.BLE.MTU,
		},
		WebSocketLocal: c.WebSocketLocal.options(),
		WebSocketCloud: cloud,
		Selector:       c.selector(),
	}
}

// selector returns nil without a configured device so every transport falls
// back to the address in its own section.
func (c Config) selector() transport.Selector {
	if c.Device == "" {
		return nil
	}
	return transport.FirstDevice{Address: c.Device}
}

func (w WebSocketConfig) options() transport.WebSocketOptions {
	return transport.WebSocketOptions{
		URL:              w.URL,
		DeviceID:         w.DeviceID,
		ClientID:         w.ClientID,
		Token:            w.Token,
		HandshakeTimeout: w.HandshakeTimeout.Std(),
		DiscoveryTimeout: w.DiscoveryTimeout.Std(),
	}
}

// LinkOptions converts the configuration for the coordinator.
func (c Config) LinkOptions(reg prometheus.Registerer) link.Options {
	return link.Options{
		InitTimeout:       c.Timeouts.Init.Std(),
		ConnectTimeout:    c.Timeouts.Connect.Std(),
		ValidationTimeout: c.Timeouts.Validation.Std(),
		LittleEndian:      c.LittleEndian,
		PingInterval:      c.PingInterval.Std(),
		Reconnect:         c.Reconnect,
		ReconnectMin:      c.ReconnectMin.Std(),
		ReconnectMax:      c.ReconnectMax.Std(),
		Registerer:        reg,
	}
}
