package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbocsi/devlink/proto"
	"github.com/mbocsi/devlink/transport"
)

// ready returns the current attempt if it can carry writes.
func (c *Coordinator) ready() (*attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.cur
	if c.closed || a == nil || a.t == nil || a.name == transport.NameNone || a.lost {
		return nil, ErrNotConnected
	}
	// The transport's flag may fall before the watcher mirrors it.
	if !c.connected.Get() || !a.t.Connected().Get() {
		return nil, ErrNotConnected
	}
	return a, nil
}

// SendPacket encodes p and writes it in a single call. Failures are
// returned; partial writes return ErrPartialWrite.
func (c *Coordinator) SendPacket(ctx context.Context, p proto.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := c.ready()
	if err != nil {
		return err
	}
	return c.sendPacket(a, p)
}

func (c *Coordinator) sendPacket(a *attempt, p proto.Packet) error {
	frame := proto.Encode(p, c.opts.LittleEndian)
	n, err := a.t.Write(frame)
	_, err = transport.CheckWrite(n, len(frame), err)
	// Keep-alive traffic stays out of the log.
	c.recordWrite("packet", p.Command != proto.CmdPing, a.name, n, len(frame), err,
		"command", p.Command.String(), "id", p.ID, "value", p.Value)
	if err != nil {
		return fmt.Errorf("send %s: %w", p.Command, err)
	}
	return nil
}

// SendMessage sends text as a message header followed by its UTF-8 body in
// one write. The body must be 1..1023 bytes.
func (c *Coordinator) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := proto.EncodeMessage(text, c.opts.LittleEndian)
	if err != nil {
		return err
	}
	a, err := c.ready()
	if err != nil {
		return err
	}
	n, err := a.t.Write(frame)
	_, err = transport.CheckWrite(n, len(frame), err)
	c.recordWrite("message", true, a.name, n, len(frame), err, "length", len(frame)-proto.FrameSize)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *Coordinator) recordWrite(kind string, log bool, name string, n, want int, err error, args ...any) {
	result := "full"
	switch {
	case errors.Is(err, transport.ErrPartialWrite):
		result = "partial"
	case err != nil:
		result = "failed"
	}
	c.metrics.writes.WithLabelValues(kind, result).Inc()
	if !log {
		return
	}

	attrs := append([]any{"transport", name, "written", n, "size", want}, args...)
	switch result {
	case "full":
		slog.Info("Wrote "+kind, attrs...)
	case "partial":
		slog.Warn("Partial "+kind+" write", attrs...)
	default:
		slog.Error("Failed to write "+kind, append(attrs, "error", err)...)
	}
}
