// Package link manages the single active connection to the device: which
// transport is selected, its lifecycle, the read pipeline and the send paths.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/devlink/broker"
	"github.com/mbocsi/devlink/proto"
	"github.com/mbocsi/devlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mbocsi/devlink/link")

const (
	DefaultInitTimeout       = 5 * time.Second
	DefaultConnectTimeout    = 60 * time.Second
	DefaultValidationTimeout = 10 * time.Second
	DefaultReconnectMin      = 2 * time.Second
	DefaultReconnectMax      = 60 * time.Second
)

type Options struct {
	InitTimeout       time.Duration
	ConnectTimeout    time.Duration
	ValidationTimeout time.Duration
	LittleEndian      bool
	// PingInterval enables keep-alive pings while connected.
	PingInterval time.Duration
	// Reconnect re-selects the last transport after a link loss.
	Reconnect    bool
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// Registerer receives the coordinator metrics. Nil keeps them private.
	Registerer prometheus.Registerer
}

func (o *Options) setDefaults() {
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ValidationTimeout <= 0 {
		o.ValidationTimeout = DefaultValidationTimeout
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = max(DefaultReconnectMax, o.ReconnectMin)
	}
}

// Status is a snapshot of the connection state.
type Status struct {
	Selected      string `json:"selected"`
	State         string `json:"state,omitempty"`
	Connected     bool   `json:"connected"`
	Live          bool   `json:"live"`
	BytesReceived uint64 `json:"bytes_received"`
	Transferring  bool   `json:"transferring"`
	Generation    uint64 `json:"generation"`
}

// attempt is one selection. Work started on behalf of an attempt stops
// being observable as soon as a newer attempt replaces it.
type attempt struct {
	gen       uint64
	name      string
	ctx       context.Context
	cancel    context.CancelFunc
	t         transport.Transport
	connected bool
	streaming bool
	lost      bool
	retry     int
}

// Coordinator owns exactly one transport at a time. Selecting a transport
// tears the previous one down before the new one is created.
type Coordinator struct {
	registry *transport.Registry
	opts     Options
	metrics  *metrics

	mu     sync.Mutex
	cur    *attempt
	active transport.Transport
	gen    uint64
	closed bool
	retry  *time.Timer

	// swapMu serializes teardown and setup of transports.
	swapMu sync.Mutex

	waitMu       sync.Mutex
	waiter       chan proto.Command
	transferring atomic.Bool

	packet    *broker.Value[proto.Packet]
	message   *broker.Value[string]
	connected *broker.Value[bool]
	selection *broker.Value[string]
	events    *broker.Bus[Event]

	bytesReceived atomic.Uint64
	alive         atomic.Bool
	wg            sync.WaitGroup
}

func New(registry *transport.Registry, opts Options) *Coordinator {
	opts.setDefaults()
	c := &Coordinator{
		registry:  registry,
		opts:      opts,
		metrics:   newMetrics(opts.Registerer),
		packet:    broker.NewValue(proto.Packet{}),
		message:   broker.NewValue(""),
		connected: broker.NewValue(false),
		selection: broker.NewValue(transport.NameNone),
		events:    broker.NewBus[Event]("link", 128),
	}
	c.mu.Lock()
	a := c.beginLocked(transport.NameNone)
	c.mu.Unlock()
	noop := transport.NewNoop()
	initNone(a.ctx, noop)
	c.install(a, noop, transport.NameNone)
	return c
}

// Packet holds the most recent packet received. There is no history.
func (c *Coordinator) Packet() *broker.Value[proto.Packet] { return c.packet }

// Message holds the most recent text message received.
func (c *Coordinator) Message() *broker.Value[string] { return c.message }

// Connected mirrors the connected flag of the selected transport.
func (c *Coordinator) Connected() *broker.Value[bool] { return c.connected }

// Selection holds the selected transport name.
func (c *Coordinator) Selection() *broker.Value[string] { return c.selection }

func (c *Coordinator) Events() *broker.Bus[Event] { return c.events }

// Transports lists the names that can be selected.
func (c *Coordinator) Transports() []string { return c.registry.Names() }

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s := Status{Generation: c.gen}
	if a := c.cur; a != nil {
		s.Selected = a.name
		if st, ok := a.t.(interface{ State() transport.State }); ok {
			s.State = st.State().String()
		}
	}
	c.mu.Unlock()

	s.Connected = c.connected.Get()
	s.Live = c.alive.Load()
	s.BytesReceived = c.bytesReceived.Load()
	s.Transferring = c.transferring.Load()
	return s
}

// Select replaces the active transport with a new instance of name. It
// returns once the new transport is connected or has failed; failures also
// reset the selection to none and emit a notification. An empty name or
// "none" is a deliberate disconnect.
func (c *Coordinator) Select(ctx context.Context, name string) error {
	return c.switchTo(ctx, name, nil, 0)
}

// Disconnect is a deliberate disconnect. It never triggers a reconnect.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.Select(ctx, transport.NameNone)
}

func (c *Coordinator) switchTo(ctx context.Context, name string, from *attempt, retry int) error {
	if name == "" {
		name = transport.NameNone
	}
	ctx, span := tracer.Start(ctx, "link.select", trace.WithAttributes(
		attribute.String("transport", name),
		attribute.Int("retry", retry),
	))
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if from != nil && c.cur != from {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.stopRetryLocked()
	a := c.beginLocked(name)
	a.retry = retry
	c.mu.Unlock()

	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if !c.isCurrent(a) {
		return ErrSuperseded
	}

	prev := c.activeName()
	c.teardown()
	if from == nil && prev != transport.NameNone {
		c.notify(KindDisconnected, StepSelect, prev, "disconnected")
	}

	t, ok := c.registry.New(name)
	if !ok {
		c.metrics.selections.WithLabelValues(name, "unknown").Inc()
		noop := transport.NewNoop()
		initNone(a.ctx, noop)
		c.install(a, noop, transport.NameNone)
		c.notify(KindError, StepSelect, name, fmt.Sprintf("unknown transport %q", name))
		c.publishStatus()
		span.SetStatus(codes.Error, "unknown transport")
		return fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	c.install(a, t, name)
	c.publishStatus()
	slog.Info("Transport selected", "transport", name, "generation", a.gen)

	if name == transport.NameNone {
		initNone(a.ctx, t)
		c.metrics.selections.WithLabelValues(name, "ok").Inc()
		return nil
	}

	flags, unsubscribe := t.Connected().Subscribe()
	go c.watch(a, flags, unsubscribe)

	if err := c.step(ctx, a, StepInit, c.opts.InitTimeout, t.Init); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.fail(a, StepInit, err)
	}
	if err := c.step(ctx, a, StepConnect, c.opts.ConnectTimeout, t.Connect); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.fail(a, StepConnect, err)
	}

	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return ErrSuperseded
	}
	a.connected = true
	c.mu.Unlock()

	if t.Connected().Get() {
		c.startPipeline(a)
	}
	c.metrics.selections.WithLabelValues(name, "ok").Inc()
	return nil
}

// beginLocked starts a new attempt and cancels everything bound to the
// previous one. c.mu must be held.
func (c *Coordinator) beginLocked(name string) *attempt {
	if c.cur != nil {
		c.cur.cancel()
	}
	c.gen++
	a := &attempt{gen: c.gen, name: name}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	c.cur = a
	return a
}

func (c *Coordinator) isCurrent(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == a
}

func (c *Coordinator) activeName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return transport.NameNone
	}
	return c.active.Name()
}

func (c *Coordinator) install(a *attempt, t transport.Transport, name string) {
	c.mu.Lock()
	a.t = t
	a.name = name
	c.active = t
	c.mu.Unlock()

	c.selection.Set(name)
	c.connected.Set(false)
	c.metrics.setConnected(false)
	c.alive.Store(false)
	c.bytesReceived.Store(0)
}

// initNone initializes the placeholder of an empty selection. A failure is
// logged and the placeholder installed regardless.
func initNone(ctx context.Context, t transport.Transport) {
	if err := t.Init(ctx); err != nil {
		slog.Warn("Failed to initialize transport", "transport", t.Name(), "error", err)
	}
}

// teardown disconnects and disposes the active transport. Failures are
// logged and otherwise ignored. c.swapMu must be held.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	t := c.active
	c.active = nil
	c.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.Disconnect(); err != nil {
		slog.Warn("Failed to disconnect transport", "transport", t.Name(), "error", err)
	}
	if err := t.Dispose(); err != nil {
		slog.Warn("Failed to dispose transport", "transport", t.Name(), "error", err)
	}
}

// step runs one blocking transport call bounded by timeout. The call is
// abandoned, not awaited, when the attempt is superseded.
func (c *Coordinator) step(ctx context.Context, a *attempt, step Step, timeout time.Duration, fn func(context.Context) error) error {
	_, span := tracer.Start(ctx, "link."+string(step), trace.WithAttributes(attribute.String("transport", a.name)))
	defer span.End()

	stepCtx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(stepCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-stepCtx.Done():
		err = stepCtx.Err()
	}
	if err == nil {
		return nil
	}
	switch {
	case a.ctx.Err() != nil:
		err = ErrSuperseded
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// fail resets the selection after a failed init or connect. c.swapMu must
// be held.
func (c *Coordinator) fail(a *attempt, step Step, err error) error {
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	c.metrics.selections.WithLabelValues(a.name, string(step)+"_failed").Inc()
	if c.resetLocked(a, KindError, step, fmt.Sprintf("%s failed: %v", step, err)) && a.retry > 0 {
		c.scheduleReconnect(a.name, a.retry+1)
	}
	return fmt.Errorf("%s %s: %w", step, a.name, err)
}

// resetLocked returns the selection to none if a is still current. c.swapMu
// must be held.
func (c *Coordinator) resetLocked(a *attempt, kind Kind, step Step, message string) bool {
	c.mu.Lock()
	if c.cur != a || c.closed {
		c.mu.Unlock()
		return false
	}
	none := c.beginLocked(transport.NameNone)
	c.mu.Unlock()

	c.teardown()
	noop := transport.NewNoop()
	initNone(none.ctx, noop)
	c.install(none, noop, transport.NameNone)
	c.notify(kind, step, a.name, message)
	c.publishStatus()
	return true
}

// watch mirrors the transport's connected flag for as long as a is current.
func (c *Coordinator) watch(a *attempt, flags <-chan bool, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-a.ctx.Done():
			return
		case up, ok := <-flags:
			if !ok {
				return
			}
			c.mu.Lock()
			if c.cur != a {
				c.mu.Unlock()
				return
			}
			established := a.connected || a.streaming
			c.mu.Unlock()

			if up {
				c.startPipeline(a)
				continue
			}
			c.setConnected(a, false)
			if established {
				c.linkLost(a, "link lost")
				return
			}
		}
	}
}

func (c *Coordinator) setConnected(a *attempt, v bool) {
	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return
	}
	c.connected.Set(v)
	c.mu.Unlock()
	c.metrics.setConnected(v)
	c.publishStatus()
}

// linkLost handles a drop the user did not ask for. The reset runs on its
// own goroutine since a selection in progress may hold c.swapMu.
func (c *Coordinator) linkLost(a *attempt, reason string) {
	c.mu.Lock()
	if c.cur != a || a.lost || c.closed {
		c.mu.Unlock()
		return
	}
	a.lost = true
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.linkLosses.Inc()
	go func() {
		defer c.wg.Done()
		c.swapMu.Lock()
		reset := c.resetLocked(a, KindLinkLost, StepLink, reason)
		c.swapMu.Unlock()
		if reset && c.opts.Reconnect {
			c.scheduleReconnect(a.name, 1)
		}
	}()
}

func (c *Coordinator) scheduleReconnect(name string, retry int) {
	delay := backoff(c.opts.ReconnectMin, c.opts.ReconnectMax, retry)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	base := c.cur
	c.stopRetryLocked()
	c.retry = time.AfterFunc(delay, func() {
		c.notify(KindInfo, StepReconnect, name, fmt.Sprintf("reconnecting, attempt %d", retry))
		err := c.switchTo(context.Background(), name, base, retry)
		if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
			slog.Warn("Reconnect failed", "transport", name, "attempt", retry, "error", err)
		}
	})
	slog.Info("Scheduled reconnect", "transport", name, "attempt", retry, "delay", delay)
}

func (c *Coordinator) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// backoff doubles from lo on every retry and never exceeds hi.
func backoff(lo, hi time.Duration, retry int) time.Duration {
	d := lo
	for i := 1; i < retry && d < hi; i++ {
		d *= 2
	}
	return min(d, hi)
}

// Close tears down the active transport and waits for background work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopRetryLocked()
	c.beginLocked(transport.NameNone)
	c.mu.Unlock()

	c.swapMu.Lock()
	c.teardown()
	c.swapMu.Unlock()

	c.wg.Wait()
	slog.Info("Link coordinator closed")
	return nil
}
