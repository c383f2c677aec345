package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the first byte of every frame. Values are fixed by the device
// firmware and must not change.
type Command uint8

const (
	CmdOn              Command = 0x01
	CmdOff             Command = 0x02
	CmdFloatSend       Command = 0x03
	CmdMode            Command = 0x04
	CmdUp              Command = 0x05
	CmdDown            Command = 0x06
	CmdMessageSend     Command = 0x07
	CmdFloatReceive    Command = 0x08
	CmdMessageReceive  Command = 0x09
	CmdPasswordSend    Command = 0x0A
	CmdPasswordValid   Command = 0x0B
	CmdPasswordInvalid Command = 0x0C
	CmdPing            Command = 0x0D
)

var commandNames = map[Command]string{
	CmdOn:              "on",
	CmdOff:             "off",
	CmdFloatSend:       "float_send",
	CmdMode:            "mode",
	CmdUp:              "up",
	CmdDown:            "down",
	CmdMessageSend:     "message_send",
	CmdFloatReceive:    "float_receive",
	CmdMessageReceive:  "message_receive",
	CmdPasswordSend:    "password_send",
	CmdPasswordValid:   "password_valid",
	CmdPasswordInvalid: "password_invalid",
	CmdPing:            "ping",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// IsFrameStart reports whether c opens a frame coming from the device.
// Any other byte seen while the framer is idle is noise.
func (c Command) IsFrameStart() bool {
	switch c {
	case CmdFloatReceive, CmdPasswordValid, CmdPasswordInvalid, CmdMessageReceive, CmdPing:
		return true
	}
	return false
}

// ParseCommand accepts a command name ("ping", "float_send") or a numeric
// byte value in decimal or 0x-prefixed hex.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for c, name := range commandNames {
		if name == s {
			return c, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown command %q", s)
	}
	return Command(n), nil
}
