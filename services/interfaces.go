package services

import (
	"context"
	"time"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/proto"
)

// TransportService handles transport selection
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	Select(ctx context.Context, name string) error
	Disconnect(ctx context.Context) error
	Status() link.Status
}

// DeviceService handles traffic with the connected device
type DeviceService interface {
	LatestPacket() proto.Packet
	LatestMessage() string

	SendPacket(ctx context.Context, req PacketRequest) error
	SendMessage(ctx context.Context, req MessageRequest) error
	Transfer(ctx context.Context, req TransferRequest) error

	// Query sends a packet and waits for the reply it provokes
	Query(ctx context.Context, req PacketRequest, timeout time.Duration) (*QueryResponse, error)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Transport TransportService
	Device    DeviceService
}
