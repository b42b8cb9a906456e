package blemidi

import "errors"

var (
	ErrPacketTooShort  = errors.New("blemidi: packet too short")
	ErrPacketMalformed = errors.New("blemidi: packet malformed")
)

// A Packet is a view over one BLE-MIDI characteristic value. It borrows buf
// and yields the messages it carries one at a time.
//
// A Packet is not safe for concurrent use.
type Packet struct {
	buf           []byte
	cursor        int
	timestampHigh uint8
	err           error
}

// NewPacket validates the header of buf and returns a Packet positioned at
// its first message.
func NewPacket(buf []byte) *Packet {
	p := &Packet{buf: buf, cursor: 1}

	// header and first timestamp byte
	if buf == nil || len(buf) < 2 {
		p.err = ErrPacketTooShort
		return p
	}

	if isDataByte(buf[0]) || isDataByte(buf[1]) {
		p.err = ErrPacketMalformed
		return p
	}

	p.timestampHigh = buf[0] & timestampHighMask
	return p
}

// Valid reports whether the packet header was accepted.
func (p *Packet) Valid() bool {
	return p.err == nil
}

// Err returns the reason the packet was rejected, or nil.
func (p *Packet) Err() error {
	return p.err
}

// Len returns the size of the packet in bytes.
func (p *Packet) Len() int {
	return len(p.buf)
}

// TimestampHigh returns the high 6 bits of the timestamp carried by the
// header.
func (p *Packet) TimestampHigh() uint8 {
	return p.timestampHigh
}

// HasNext reports whether Next would return another message.
func (p *Packet) HasNext() bool {
	return p.err == nil && p.cursor < len(p.buf)
}

// Next returns the next message. Once the packet is exhausted, Next keeps
// returning an invalid, empty message.
func (p *Packet) Next() Message {
	if !p.HasNext() {
		return Message{}
	}
	m, next := Segment(p.buf, p.timestampHigh, p.cursor)
	p.cursor = next
	return m
}

// First rewinds the packet and returns its first message.
func (p *Packet) First() Message {
	p.cursor = 1
	return p.Next()
}

// Messages rewinds the packet and returns all of its messages.
func (p *Packet) Messages() []Message {
	if !p.Valid() {
		return nil
	}
	var out []Message
	for m := p.First(); ; m = p.Next() {
		out = append(out, m)
		if !p.HasNext() {
			break
		}
	}
	return out
}

// Segment extracts the message starting at offset, whose first byte is a
// timestamp-low byte, and returns it with the offset of the following one.
// Message boundaries are found from the data/status classification of each
// byte only; a body that starts with a data byte is a running status
// continuation and is returned as is.
func Segment(buf []byte, timestampHigh uint8, offset int) (Message, int) {
	length := len(buf)
	if offset < 1 || offset >= length {
		return Message{}, offset
	}

	start := offset
	offset++

	if offset >= length {
		return newMessage(buf, timestampHigh, start, 1), offset
	}

	// status or system real-time byte
	if !isDataByte(buf[offset]) {
		offset++
	}

	for offset < length && isDataByte(buf[offset]) {
		offset++
	}

	return newMessage(buf, timestampHigh, start, offset-start), offset
}

func isDataByte(b byte) bool {
	return b>>7 == 0
}
