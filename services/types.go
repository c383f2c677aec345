package services

import (
	"time"

	"github.com/mbocsi/devlink/proto"
)

// TransportInfo describes one selectable transport
type TransportInfo struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// PacketRequest addresses one device variable. Command accepts a name
// ("float_send") or a byte value ("0x03").
type PacketRequest struct {
	Command string  `json:"command"`
	ID      uint8   `json:"id"`
	Value   float32 `json:"value"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

// TransferRequest carries a payload gated by the device password. Payload
// is base64 in JSON.
type TransferRequest struct {
	Password string `json:"password"`
	Payload  []byte `json:"payload"`
}

// QueryResponse is the device reply correlated to a sent packet
type QueryResponse struct {
	Request  proto.Packet  `json:"request"`
	Response proto.Packet  `json:"response"`
	Elapsed  time.Duration `json:"elapsed"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeUnavailable  = "UNAVAILABLE"
)
