package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/transport"
	"github.com/spf13/cobra"
)

func transferCmd(configPath *string) *cobra.Command {
	var (
		selection string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "transfer <file>",
		Short: "Send a password-gated payload to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if selection == "" {
				selection = cfg.Transport
			}
			if selection == "" || selection == transport.NameNone {
				return errors.New("no transport selected, use --transport")
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("DEVLINK_PASSWORD")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coordinator := link.New(transport.NewDefaultRegistry(cfg.TransportOptions()), cfg.LinkOptions(nil))
			defer coordinator.Close()

			if err := coordinator.Select(ctx, selection); err != nil {
				return err
			}
			if err := coordinator.Transfer(ctx, password, payload); err != nil {
				return err
			}
			fmt.Printf("Transferred %d bytes over %s\n", len(payload), selection)
			return coordinator.Disconnect(ctx)
		},
	}

	cmd.Flags().StringVarP(&selection, "transport", "t", "", "Transport to use")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Device password, defaults to $DEVLINK_PASSWORD")

	return cmd
}
