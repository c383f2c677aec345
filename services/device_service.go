package services

import (
	"context"
	"time"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/proto"
)

// DeviceServiceImpl implements DeviceService
type DeviceServiceImpl struct {
	link    *link.Coordinator
	queries *QueryTracker
}

func NewDeviceService(c *link.Coordinator, queries *QueryTracker) DeviceService {
	return &DeviceServiceImpl{link: c, queries: queries}
}

func (ds *DeviceServiceImpl) LatestPacket() proto.Packet {
	return ds.link.Packet().Get()
}

func (ds *DeviceServiceImpl) LatestMessage() string {
	return ds.link.Message().Get()
}

func (ds *DeviceServiceImpl) SendPacket(ctx context.Context, req PacketRequest) error {
	p, err := createPacket(req)
	if err != nil {
		return err
	}
	return mapError(ds.link.SendPacket(ctx, p))
}

func (ds *DeviceServiceImpl) SendMessage(ctx context.Context, req MessageRequest) error {
	return mapError(ds.link.SendMessage(ctx, req.Text))
}

func (ds *DeviceServiceImpl) Transfer(ctx context.Context, req TransferRequest) error {
	if req.Password == "" {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Password cannot be empty"}
	}
	return mapError(ds.link.Transfer(ctx, req.Password, req.Payload))
}

func (ds *DeviceServiceImpl) Query(ctx context.Context, req PacketRequest, timeout time.Duration) (*QueryResponse, error) {
	p, err := createPacket(req)
	if err != nil {
		return nil, err
	}
	return ds.queries.Query(ctx, p, timeout)
}
