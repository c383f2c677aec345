package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mbocsi/devlink/config"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "devlink",
		Short: "Talk to an embedded device over serial, Bluetooth or WebSocket",
		Long: `devlink connects to one embedded device at a time and exchanges
command and telemetry packets with it.

Transports: usb, bluetooth-classic, ble, websocket-local,
websocket-cloud and an in-process simulator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the JSON config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		transferCmd(&configPath),
		portsCmd(),
		scanCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the default logger. Logs
// go to stderr since stdout may carry MCP traffic.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	level, _ := cfg.SlogLevel()
	setupLogger(os.Stderr, cfg.LogFormat, level)
	return cfg, nil
}

func setupLogger(w io.Writer, format string, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
