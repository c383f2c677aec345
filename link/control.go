package link

import (
	"context"

	"github.com/mbocsi/devlink/proto"
)

func (c *Coordinator) Ping(ctx context.Context) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdPing})
}

func (c *Coordinator) TurnOn(ctx context.Context, id uint8) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdOn, ID: id, Value: 1})
}

func (c *Coordinator) TurnOff(ctx context.Context, id uint8) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdOff, ID: id})
}

func (c *Coordinator) StepUp(ctx context.Context, id uint8) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdUp, ID: id})
}

func (c *Coordinator) StepDown(ctx context.Context, id uint8) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdDown, ID: id})
}

func (c *Coordinator) SetMode(ctx context.Context, id uint8, mode float32) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdMode, ID: id, Value: mode})
}

// SetFloat sends a float_send for variable id.
func (c *Coordinator) SetFloat(ctx context.Context, id uint8, v float32) error {
	return c.SendPacket(ctx, proto.Packet{Command: proto.CmdFloatSend, ID: id, Value: v})
}
