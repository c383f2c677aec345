package services

import (
	"context"
	"errors"

	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/proto"
)

// createPacket validates a request and converts it to a packet
func createPacket(req PacketRequest) (proto.Packet, error) {
	if req.Command == "" {
		return proto.Packet{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Command cannot be empty",
		}
	}
	cmd, err := proto.ParseCommand(req.Command)
	if err != nil {
		return proto.Packet{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Invalid command",
			Cause:   err,
		}
	}
	switch cmd {
	case proto.CmdMessageSend, proto.CmdPasswordSend:
		return proto.Packet{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Use the message or transfer endpoint for " + cmd.String(),
		}
	}
	return proto.Packet{Command: cmd, ID: req.ID, Value: req.Value}, nil
}

// mapError converts coordinator errors to ServiceError codes
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}

	code, message := ErrCodeInternal, "Device operation failed"
	switch {
	case errors.Is(err, link.ErrNotConnected):
		code, message = ErrCodeUnavailable, "Device not connected"
	case errors.Is(err, link.ErrUnknownTransport):
		code, message = ErrCodeNotFound, "Unknown transport"
	case errors.Is(err, link.ErrTransferInProgress):
		code, message = ErrCodeConflict, "Transfer already in progress"
	case errors.Is(err, link.ErrSuperseded):
		code, message = ErrCodeConflict, "Selection superseded"
	case errors.Is(err, link.ErrPasswordRejected):
		code, message = ErrCodeUnauthorized, "Password rejected"
	case errors.Is(err, link.ErrValidationTimeout), errors.Is(err, context.DeadlineExceeded):
		code, message = ErrCodeTimeout, "Device did not answer in time"
	case errors.Is(err, link.ErrMessageLength):
		code, message = ErrCodeInvalidInput, "Message must be 1 to 1023 bytes"
	case errors.Is(err, link.ErrEmptyPayload):
		code, message = ErrCodeInvalidInput, "Payload cannot be empty"
	case errors.Is(err, link.ErrPartialWrite):
		message = "Partial write"
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}
