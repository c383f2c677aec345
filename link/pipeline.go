package link

import (
	"log/slog"
	"time"

	"github.com/mbocsi/devlink/proto"
	"github.com/mbocsi/devlink/transport"
)

// startPipeline begins reading from the transport of a. It runs at most once
// per attempt.
func (c *Coordinator) startPipeline(a *attempt) {
	c.mu.Lock()
	if c.cur != a || a.streaming || a.lost || c.closed {
		c.mu.Unlock()
		return
	}
	a.streaming = true
	t := a.t
	c.wg.Add(1)
	c.mu.Unlock()

	c.setConnected(a, true)
	c.notify(KindConnected, StepConnect, a.name, "connected")

	go c.pipeline(a, t)
	if c.opts.PingInterval > 0 {
		go c.keepAlive(a)
	}
}

func (c *Coordinator) pipeline(a *attempt, t transport.Transport) {
	defer c.wg.Done()

	opts := proto.FramerOptions{LittleEndian: c.opts.LittleEndian}
	if ff, ok := t.(transport.FixedFramer); ok {
		opts.FixedFrame = ff.FixedFrame()
	}
	framer := proto.NewFramer(opts)
	var last proto.FramerStats

	rx := t.Read()
	slog.Debug("Read pipeline started", "transport", a.name, "fixed_frame", opts.FixedFrame)
	for {
		select {
		case <-a.ctx.Done():
			return
		case chunk, ok := <-rx:
			if !ok {
				if a.ctx.Err() != nil {
					return
				}
				slog.Info("Read stream ended", "transport", a.name)
				if err := t.Disconnect(); err != nil {
					slog.Warn("Failed to disconnect transport", "transport", a.name, "error", err)
				}
				c.linkLost(a, "link lost: read stream ended")
				return
			}
			c.receive(a, framer, chunk)
			stats := framer.Stats()
			c.metrics.observeFramer(last, stats)
			last = stats
		}
	}
}

func (c *Coordinator) receive(a *attempt, framer *proto.Framer, chunk []byte) {
	if !c.live(a) {
		c.metrics.stale.Inc()
		return
	}
	c.bytesReceived.Add(uint64(len(chunk)))
	c.metrics.bytesReceived.Add(float64(len(chunk)))

	for _, b := range chunk {
		if ev, ok := framer.Feed(b); ok {
			c.dispatch(a, ev)
		}
	}
}

// live reports whether results read on behalf of a may still be published.
func (c *Coordinator) live(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == a && !a.lost
}

// dispatch publishes one framer event. The check and the publish happen under
// c.mu so that nothing from a replaced transport is observable after Select
// has moved on.
func (c *Coordinator) dispatch(a *attempt, ev proto.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != a || a.lost {
		c.metrics.stale.Inc()
		return
	}

	switch ev.Kind {
	case proto.EventPacket:
		p := ev.Packet
		c.alive.Store(true)
		c.packet.Set(p)
		c.metrics.packets.WithLabelValues(p.Command.String()).Inc()
		c.events.Publish(Event{Type: EventPacket, Packet: &p})
		if p.Command == proto.CmdPasswordValid || p.Command == proto.CmdPasswordInvalid {
			c.resolveValidation(p.Command)
		}
	case proto.EventMessage:
		c.message.Set(ev.Text)
		c.metrics.messages.Inc()
		c.events.Publish(Event{Type: EventMessage, Message: ev.Text})
	}
}

// keepAlive pings the device while a is current. Replies set the live flag.
func (c *Coordinator) keepAlive(a *attempt) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendPacket(a, proto.Packet{Command: proto.CmdPing}); err != nil {
				slog.Debug("Keep-alive ping failed", "transport", a.name, "error", err)
			}
		}
	}
}
