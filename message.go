package blemidi

const (
	timestampLowMask  = 0b0111_1111
	timestampHighMask = 0b0011_1111
)

// A Message is one MIDI fragment extracted from a Packet. It is a window
// over the packet buffer and must not be used after that buffer is released.
type Message struct {
	buf       []byte
	off, n    int
	timestamp uint16
	valid     bool
}

func newMessage(buf []byte, timestampHigh uint8, off, n int) Message {
	m := Message{buf: buf, off: off, n: n}
	if buf == nil || n < 2 {
		return m
	}
	m.timestamp = uint16(timestampHigh)<<7 | uint16(buf[off]&timestampLowMask)
	m.valid = true
	return m
}

// Timestamp returns the 14-bit timestamp of the message in milliseconds,
// or 0 for an invalid message.
func (m Message) Timestamp() uint16 {
	return m.timestamp
}

// Body returns the message bytes following the timestamp-low byte.
func (m Message) Body() []byte {
	if !m.valid {
		return nil
	}
	return m.buf[m.off+1 : m.off+m.n : m.off+m.n]
}

// Len returns the length of Body.
func (m Message) Len() int {
	if !m.valid {
		return 0
	}
	return m.n - 1
}

// Raw returns the whole range consumed for the message, timestamp-low byte
// included.
func (m Message) Raw() []byte {
	if m.buf == nil {
		return nil
	}
	return m.buf[m.off : m.off+m.n : m.off+m.n]
}

// Size returns the length of Raw.
func (m Message) Size() int {
	return m.n
}

// Valid reports whether the message carries a timestamp and a body.
func (m Message) Valid() bool {
	return m.valid
}
