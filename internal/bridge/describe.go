package bridge

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// Describe renders a message body for logs. Complete messages are named by
// gomidi; running status continuations and fragments are printed as hex.
func Describe(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if body[0]&0x80 == 0 {
		return fmt.Sprintf("running status % x", body)
	}
	if n := messageLength(body[0]); n < 0 || n != len(body) {
		return fmt.Sprintf("% x", body)
	}
	return midi.Message(body).String()
}

// messageLength returns the length of a complete message starting with
// status, or -1 when it is not fixed.
func messageLength(status byte) int {
	switch status & 0xf0 {
	case 0x80, 0x90, 0xa0, 0xb0, 0xe0:
		return 3
	case 0xc0, 0xd0:
		return 2
	}

	switch status {
	case 0xf1, 0xf3:
		return 2
	case 0xf2:
		return 3
	case 0xf6, 0xf8, 0xfa, 0xfb, 0xfc, 0xfe, 0xff:
		return 1
	}
	return -1
}
