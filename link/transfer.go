package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbocsi/devlink/proto"
	"github.com/mbocsi/devlink/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transfer sends the SHA-256 digest of password, waits for the device to
// accept it and then writes payload in one call. Only one transfer runs at a
// time; a concurrent call fails with ErrTransferInProgress.
func (c *Coordinator) Transfer(ctx context.Context, password string, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if !c.transferring.CompareAndSwap(false, true) {
		c.metrics.handshakes.WithLabelValues("busy").Inc()
		return ErrTransferInProgress
	}
	defer c.transferring.Store(false)

	ctx, span := tracer.Start(ctx, "link.transfer", trace.WithAttributes(attribute.Int("payload.size", len(payload))))
	defer span.End()

	err := c.transfer(ctx, password, payload)
	result := "ok"
	switch {
	case errors.Is(err, ErrPasswordRejected):
		result = "rejected"
	case errors.Is(err, ErrValidationTimeout):
		result = "timeout"
	case err != nil:
		result = "failed"
	}
	c.metrics.handshakes.WithLabelValues(result).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Coordinator) transfer(ctx context.Context, password string, payload []byte) error {
	a, err := c.ready()
	if err != nil {
		return err
	}

	resp := make(chan proto.Command, 1)
	c.waitMu.Lock()
	c.waiter = resp
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		if c.waiter == resp {
			c.waiter = nil
		}
		c.waitMu.Unlock()
	}()

	digest := proto.EncodePassword(password)
	n, err := a.t.Write(digest)
	_, err = transport.CheckWrite(n, len(digest), err)
	c.recordWrite("password", true, a.name, n, len(digest), err)
	if err != nil {
		return fmt.Errorf("send password: %w", err)
	}

	timer := time.NewTimer(c.opts.ValidationTimeout)
	defer timer.Stop()
	select {
	case cmd := <-resp:
		if cmd != proto.CmdPasswordValid {
			c.notify(KindError, StepTransfer, a.name, "password rejected")
			return ErrPasswordRejected
		}
	case <-timer.C:
		c.notify(KindError, StepTransfer, a.name, "password validation timed out")
		return ErrValidationTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrNotConnected
	}

	n, err = a.t.Write(payload)
	_, err = transport.CheckWrite(n, len(payload), err)
	c.recordWrite("payload", true, a.name, n, len(payload), err)
	if err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	c.notify(KindInfo, StepTransfer, a.name, fmt.Sprintf("transferred %d bytes", len(payload)))
	return nil
}

// resolveValidation hands a validation reply to the waiting transfer. Replies
// nobody waits for are dropped.
func (c *Coordinator) resolveValidation(cmd proto.Command) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	if c.waiter == nil {
		return
	}
	select {
	case c.waiter <- cmd:
	default:
	}
}
