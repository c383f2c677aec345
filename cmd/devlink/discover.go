package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mbocsi/devlink/transport"
	"github.com/spf13/cobra"
)

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			printDevices("serial", ports)
			return nil
		},
	}
}

func scanCmd(configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		skipBLE bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover BLE, paired Bluetooth and LAN devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(*configPath); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*timeout)
			defer cancel()

			if !skipBLE {
				devices, err := transport.ScanBLE(ctx, timeout)
				if err != nil {
					slog.Warn("BLE scan failed", "error", err)
				}
				printDevices(transport.NameBLE, devices)
			}

			paired, err := transport.PairedSPPDevices(ctx)
			if err != nil {
				slog.Warn("Listing paired devices failed", "error", err)
			}
			printDevices(transport.NameBluetoothClassic, paired)

			lan, err := transport.Discover(ctx, transport.DeviceService, timeout)
			if err != nil {
				slog.Warn("mDNS discovery failed", "error", err)
			}
			printDevices(transport.NameWebSocketLocal, lan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Scan duration per method")
	cmd.Flags().BoolVar(&skipBLE, "no-ble", false, "Skip the BLE scan")

	return cmd
}

func printDevices(kind string, devices []transport.Device) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	if len(devices) == 0 {
		fmt.Fprintf(w, "%s\t(none)\n", kind)
		return
	}
	for _, d := range devices {
		if d.RSSI != 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\n", kind, d.Address, d.Name, d.RSSI)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, d.Address, d.Name)
	}
}
