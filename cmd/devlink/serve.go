package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/mcp"
	"github.com/mbocsi/devlink/services"
	"github.com/mbocsi/devlink/transport"
	"github.com/mbocsi/devlink/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		listen    string
		selection string
		withMCP   bool
		reconnect bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and keep the device link",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = selection
			}
			if cmd.Flags().Changed("reconnect") {
				cfg.Reconnect = reconnect
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			coordinator := link.New(transport.NewDefaultRegistry(cfg.TransportOptions()), cfg.LinkOptions(reg))
			defer coordinator.Close()
			svc := services.NewServiceContainer(coordinator)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Transport != "" {
				go func() {
					if err := coordinator.Select(ctx, cfg.Transport); err != nil {
						slog.Error("Initial selection failed", "transport", cfg.Transport, "error", err)
					}
				}()
			}

			if withMCP {
				go func() {
					if err := mcp.NewMCPServer(svc).Run(); err != nil {
						slog.Error("MCP server stopped", "error", err)
					}
					stop()
				}()
			}

			if cfg.Listen == "" {
				<-ctx.Done()
				slog.Info("Shutting down")
				return nil
			}
			return web.NewServer(svc, coordinator.Events(), reg).ListenAndServe(ctx, cfg.Listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP API address, empty disables the API")
	cmd.Flags().StringVarP(&selection, "transport", "t", "", "Transport to select on startup")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "Serve MCP tools on stdio")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Reconnect after a link loss")

	return cmd
}
