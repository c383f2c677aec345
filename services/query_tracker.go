package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/proto"
)

// QueryTracker correlates a sent packet with the device reply it provokes.
// A ping is answered by a ping; a variable write by a float_receive for the
// same id.
type QueryTracker struct {
	link    *link.Coordinator
	timeout time.Duration
}

func NewQueryTracker(c *link.Coordinator, defaultTimeout time.Duration) *QueryTracker {
	return &QueryTracker{link: c, timeout: defaultTimeout}
}

// Query sends p and waits for the matching reply
func (qt *QueryTracker) Query(ctx context.Context, p proto.Packet, timeout time.Duration) (*QueryResponse, error) {
	if timeout <= 0 {
		timeout = qt.timeout
	}

	// Subscribe before sending so a fast reply is not missed. The event bus
	// keeps packets in arrival order; the latest-packet cell would let a
	// following frame overwrite the reply.
	events, unsubscribe := qt.link.Events().Subscribe()
	defer unsubscribe()

	start := time.Now()
	if err := qt.link.SendPacket(ctx, p); err != nil {
		return nil, mapError(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Type != link.EventPacket || ev.Packet == nil || !matches(p, *ev.Packet) {
				continue
			}
			return &QueryResponse{Request: p, Response: *ev.Packet, Elapsed: time.Since(start)}, nil
		case <-timer.C:
			return nil, ServiceError{
				Code:    ErrCodeTimeout,
				Message: fmt.Sprintf("Query timeout after %v", timeout),
			}
		case <-ctx.Done():
			return nil, mapError(ctx.Err())
		}
	}
}

func matches(req, reply proto.Packet) bool {
	if req.Command == proto.CmdPing {
		return reply.Command == proto.CmdPing
	}
	return reply.Command == proto.CmdFloatReceive && reply.ID == req.ID
}
