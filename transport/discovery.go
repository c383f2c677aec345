package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// DeviceService is the mDNS service type LAN devices announce.
const DeviceService = "_devlink._tcp"

// Discover browses the local network for devices announcing service and
// returns them as WebSocket URLs. A "path=" TXT record overrides the default
// "/" path.
func Discover(ctx context.Context, service string, timeout time.Duration) ([]Device, error) {
	if service == "" {
		service = DeviceService
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	var devices []Device
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for entry := range entriesCh {
			d, ok := deviceFromEntry(entry)
			if !ok {
				continue
			}
			slog.Info("Discovered device", "name", d.Name, "address", d.Address)
			devices = append(devices, d)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entriesCh)
	<-collected

	if err != nil {
		return nil, fmt.Errorf("mDNS query for %s: %w", service, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no %s service found", ErrNoDevice, service)
	}
	return devices, nil
}

func deviceFromEntry(entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil {
		return Device{}, false
	}
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return Device{}, false
	}
	path := "/"
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			path = v
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(entry.Port))
	return Device{Address: "ws://" + addr + path, Name: entry.Name}, true
}
