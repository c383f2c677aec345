package proto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// MaxMessageLen is the exclusive upper bound of a message body in bytes.
const MaxMessageLen = 1024

var ErrMessageLength = errors.New("proto: message length out of range")

// EncodeMessage returns a message-send header whose value is the UTF-8 byte
// length of text, followed by the raw text bytes.
func EncodeMessage(text string, littleEndian bool) ([]byte, error) {
	body := []byte(text)
	if len(body) == 0 || len(body) >= MaxMessageLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageLength, len(body))
	}
	out := make([]byte, FrameSize, FrameSize+len(body))
	EncodeInto(out, 0, Packet{Command: CmdMessageSend, Value: float32(len(body))}, littleEndian) //nolint:errcheck
	return append(out, body...), nil
}

// PasswordDigest returns the lowercase hex SHA-256 of password.
func PasswordDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// EncodePassword returns the password-send command byte followed by the
// 64 ASCII hex characters of the password digest.
func EncodePassword(password string) []byte {
	digest := PasswordDigest(password)
	out := make([]byte, 0, 1+len(digest))
	out = append(out, byte(CmdPasswordSend))
	return append(out, digest...)
}
