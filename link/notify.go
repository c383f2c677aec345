package link

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/devlink/proto"
	"github.com/mbocsi/devlink/transport"
)

var (
	ErrNotConnected       = errors.New("link: not connected")
	ErrTransferInProgress = errors.New("link: transfer already in progress")
	ErrPasswordRejected   = errors.New("link: password rejected")
	ErrValidationTimeout  = errors.New("link: password validation timed out")
	ErrUnknownTransport   = errors.New("link: unknown transport")
	ErrSuperseded         = errors.New("link: selection superseded")
	ErrClosed             = errors.New("link: coordinator closed")
	ErrEmptyPayload       = errors.New("link: empty payload")

	// ErrMessageLength is returned for messages outside 1..1023 bytes.
	ErrMessageLength = proto.ErrMessageLength
	// ErrPartialWrite is returned when the transport accepted fewer bytes
	// than requested.
	ErrPartialWrite = transport.ErrPartialWrite
)

type Kind string

const (
	KindInfo         Kind = "info"
	KindError        Kind = "error"
	KindConnected    Kind = "connected"
	KindLinkLost     Kind = "link_lost"
	KindDisconnected Kind = "disconnected"
)

// Step names the operation a notification is about.
type Step string

const (
	StepSelect    Step = "select"
	StepInit      Step = "init"
	StepConnect   Step = "connect"
	StepLink      Step = "link"
	StepSend      Step = "send"
	StepTransfer  Step = "transfer"
	StepReconnect Step = "reconnect"
)

// Notification is a user-facing report from the coordinator. Transport
// failures never surface as errors from background work; they arrive here.
type Notification struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Kind      Kind      `json:"kind"`
	Step      Step      `json:"step"`
	Transport string    `json:"transport,omitempty"`
	Message   string    `json:"message"`
}

type EventType string

const (
	EventPacket       EventType = "packet"
	EventMessage      EventType = "message"
	EventNotification EventType = "notification"
	EventStatus       EventType = "status"
)

// Event is the envelope published on the coordinator's event bus.
type Event struct {
	Type         EventType     `json:"type"`
	Packet       *proto.Packet `json:"packet,omitempty"`
	Message      string        `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Status       *Status       `json:"status,omitempty"`
}

func (c *Coordinator) notify(kind Kind, step Step, name, message string) {
	n := Notification{
		ID:        uuid.NewString(),
		Time:      time.Now(),
		Kind:      kind,
		Step:      step,
		Transport: name,
		Message:   message,
	}
	switch kind {
	case KindError, KindLinkLost:
		slog.Warn("Link notification", "kind", kind, "step", step, "transport", name, "message", message)
	default:
		slog.Info("Link notification", "kind", kind, "step", step, "transport", name, "message", message)
	}
	c.events.Publish(Event{Type: EventNotification, Notification: &n})
}

func (c *Coordinator) publishStatus() {
	s := c.Status()
	c.events.Publish(Event{Type: EventStatus, Status: &s})
}
