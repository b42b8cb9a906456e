package blemidi_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/onur1/blemidi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expectedMessage struct {
	Timestamp uint16
	Body      []byte
	Raw       []byte
	Valid     bool
}

type packetTestCase struct {
	desc          string
	buf           []byte
	err           error
	timestampHigh uint8
	expect        []expectedMessage
}

var packetTestCases = []packetTestCase{
	{
		desc: "nil buffer",
		buf:  nil,
		err:  blemidi.ErrPacketTooShort,
	},
	{
		desc: "empty buffer",
		buf:  []byte{},
		err:  blemidi.ErrPacketTooShort,
	},
	{
		desc: "header only",
		buf:  []byte{0x80},
		err:  blemidi.ErrPacketTooShort,
	},
	{
		desc: "header is a data byte",
		buf:  []byte{0x00, 0x81, 0x90, 0x3c, 0x64},
		err:  blemidi.ErrPacketMalformed,
	},
	{
		desc: "first timestamp is a data byte",
		buf:  []byte{0x80, 0x01, 0x90, 0x3c, 0x64},
		err:  blemidi.ErrPacketMalformed,
	},
	{
		desc:          "header timestamp bits",
		buf:           []byte{0xa0, 0x81, 0x90, 0x3c, 0x64},
		timestampHigh: 0x20,
		expect: []expectedMessage{
			{Timestamp: 32<<7 | 1, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x81, 0x90, 0x3c, 0x64}, Valid: true},
		},
	},
	{
		desc:          "reserved header bit ignored",
		buf:           []byte{0xff, 0xff, 0xb0, 0x07, 0x7f},
		timestampHigh: 0x3f,
		expect: []expectedMessage{
			{Timestamp: 0x1fff, Body: []byte{0xb0, 0x07, 0x7f}, Raw: []byte{0xff, 0xb0, 0x07, 0x7f}, Valid: true},
		},
	},
	{
		desc: "single message",
		buf:  []byte{0x80, 0x81, 0x90, 0x3c, 0x64},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x81, 0x90, 0x3c, 0x64}, Valid: true},
		},
	},
	{
		desc: "running status",
		buf:  []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82, 0x3c, 0x00},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x81, 0x90, 0x3c, 0x64}, Valid: true},
			{Timestamp: 2, Body: []byte{0x3c, 0x00}, Raw: []byte{0x82, 0x3c, 0x00}, Valid: true},
		},
	},
	{
		desc: "two full messages",
		buf:  []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x85, 0x80, 0x3c, 0x00},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x81, 0x90, 0x3c, 0x64}, Valid: true},
			{Timestamp: 5, Body: []byte{0x80, 0x3c, 0x00}, Raw: []byte{0x85, 0x80, 0x3c, 0x00}, Valid: true},
		},
	},
	{
		desc: "program change",
		buf:  []byte{0x80, 0x90, 0xc0, 0x05},
		expect: []expectedMessage{
			{Timestamp: 0x10, Body: []byte{0xc0, 0x05}, Raw: []byte{0x90, 0xc0, 0x05}, Valid: true},
		},
	},
	{
		desc: "real-time byte",
		buf:  []byte{0x80, 0x81, 0xf8, 0x82, 0x90, 0x3c, 0x64},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0xf8}, Raw: []byte{0x81, 0xf8}, Valid: true},
			{Timestamp: 2, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x82, 0x90, 0x3c, 0x64}, Valid: true},
		},
	},
	{
		desc: "status byte as last byte",
		buf:  []byte{0x80, 0x81, 0xfe},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0xfe}, Raw: []byte{0x81, 0xfe}, Valid: true},
		},
	},
	{
		desc: "sysex data absorbed until next timestamp",
		buf:  []byte{0x80, 0x81, 0xf0, 0x7e, 0x7f, 0x06, 0x01, 0x82, 0xf7},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0xf0, 0x7e, 0x7f, 0x06, 0x01}, Raw: []byte{0x81, 0xf0, 0x7e, 0x7f, 0x06, 0x01}, Valid: true},
			{Timestamp: 2, Body: []byte{0xf7}, Raw: []byte{0x82, 0xf7}, Valid: true},
		},
	},
	{
		desc: "timestamp only",
		buf:  []byte{0x80, 0x81},
		expect: []expectedMessage{
			{Raw: []byte{0x81}},
		},
	},
	{
		desc: "truncated trailing message",
		buf:  []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0x90, 0x3c, 0x64}, Raw: []byte{0x81, 0x90, 0x3c, 0x64}, Valid: true},
			{Raw: []byte{0x82}},
		},
	},
	{
		// Two high-bit bytes in a row are read as timestamp and status;
		// the next status byte is then taken as a timestamp.
		desc: "missing timestamp degrades into oversized segments",
		buf:  []byte{0x80, 0x81, 0x82, 0x90, 0x3c},
		expect: []expectedMessage{
			{Timestamp: 1, Body: []byte{0x82}, Raw: []byte{0x81, 0x82}, Valid: true},
			{Timestamp: 0x10, Body: []byte{0x3c}, Raw: []byte{0x90, 0x3c}, Valid: true},
		},
	},
}

func TestPacket(t *testing.T) {
	for _, tt := range packetTestCases {
		tt := tt
		t.Run(tt.desc, func(t *testing.T) {
			p := blemidi.NewPacket(tt.buf)

			if tt.err != nil {
				assert.False(t, p.Valid())
				assert.ErrorIs(t, p.Err(), tt.err)
				assert.False(t, p.HasNext())
				assert.EqualValues(t, 0, p.TimestampHigh())
				assert.False(t, p.Next().Valid())
				assert.Nil(t, p.Messages())
				return
			}

			require.True(t, p.Valid())
			assert.NoError(t, p.Err())
			assert.Equal(t, len(tt.buf), p.Len())
			assert.Equal(t, tt.timestampHigh, p.TimestampHigh())

			var got []expectedMessage
			for p.HasNext() {
				got = append(got, project(p.Next()))
			}
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPacketExhaustion(t *testing.T) {
	p := blemidi.NewPacket([]byte{0x80, 0x81, 0x90, 0x3c, 0x64})

	m := p.Next()
	require.True(t, m.Valid())
	assert.False(t, p.HasNext())

	for i := 0; i < 3; i++ {
		m = p.Next()
		assert.False(t, m.Valid())
		assert.Equal(t, 0, m.Len())
		assert.Equal(t, 0, m.Size())
		assert.Nil(t, m.Body())
		assert.Nil(t, m.Raw())
		assert.EqualValues(t, 0, m.Timestamp())
	}
}

func TestPacketFirstRestarts(t *testing.T) {
	buf := []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82, 0x3c, 0x00}
	p := blemidi.NewPacket(buf)

	first := p.First()
	p.Next()
	assert.False(t, p.HasNext())

	again := p.First()
	assert.Equal(t, first.Body(), again.Body())
	assert.Equal(t, first.Timestamp(), again.Timestamp())
	assert.True(t, p.HasNext())

	assert.Len(t, p.Messages(), 2)
	assert.Len(t, p.Messages(), 2)
}

func TestPacketBorrowsBuffer(t *testing.T) {
	buf := []byte{0x80, 0x81, 0x90, 0x3c, 0x64}
	m := blemidi.NewPacket(buf).First()

	buf[3] = 0x3d
	assert.Equal(t, []byte{0x90, 0x3d, 0x64}, m.Body())

	// appending to a body must not overwrite the packet
	buf = []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82, 0x3c, 0x00}
	m = blemidi.NewPacket(buf).First()
	_ = append(m.Body(), 0x00)
	assert.Equal(t, byte(0x82), buf[5])
}

func TestSegment(t *testing.T) {
	buf := []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82, 0x3c, 0x00}

	m, next := blemidi.Segment(buf, 0, 1)
	assert.Equal(t, 5, next)
	assert.Equal(t, []byte{0x90, 0x3c, 0x64}, m.Body())

	m, next = blemidi.Segment(buf, 3, next)
	assert.Equal(t, 8, next)
	assert.EqualValues(t, 3<<7|2, m.Timestamp())
	assert.Equal(t, []byte{0x3c, 0x00}, m.Body())

	m, next = blemidi.Segment(buf, 3, next)
	assert.Equal(t, 8, next)
	assert.False(t, m.Valid())

	m, next = blemidi.Segment(buf, 0, 0)
	assert.Equal(t, 0, next)
	assert.False(t, m.Valid())
}

func TestPacketRoundTrip(t *testing.T) {
	for _, tt := range packetTestCases {
		if tt.err != nil {
			continue
		}
		var out []byte
		for _, m := range blemidi.NewPacket(tt.buf).Messages() {
			out = append(out, m.Raw()...)
		}
		assert.True(t, bytes.Equal(tt.buf[1:], out), tt.desc)
	}

	// every byte pattern after a valid header
	for hi := 0x80; hi <= 0xff; hi += 0x3f {
		for b := 0; b <= 0xff; b++ {
			for c := 0; c <= 0xff; c += 0x11 {
				buf := []byte{byte(hi), 0x80 | byte(b), byte(b), byte(c), byte(c ^ 0x80)}
				var out []byte
				for _, m := range blemidi.NewPacket(buf).Messages() {
					out = append(out, m.Raw()...)
				}
				if !bytes.Equal(buf[1:], out) {
					t.Fatalf("% x: got % x", buf, out)
				}
			}
		}
	}
}

func BenchmarkPacketNext(b *testing.B) {
	b.ReportAllocs()

	buf := []byte{0x80, 0x81, 0x90, 0x3c, 0x64, 0x82, 0x3c, 0x00, 0x83, 0xb0, 0x07, 0x7f, 0x84, 0xf8}
	n := 0
	for i := 0; i < b.N; i++ {
		p := blemidi.NewPacket(buf)
		for p.HasNext() {
			n += p.Next().Len()
		}
	}
	if n == 0 {
		b.Fatal("no messages")
	}
}

func project(m blemidi.Message) expectedMessage {
	return expectedMessage{
		Timestamp: m.Timestamp(),
		Body:      m.Body(),
		Raw:       m.Raw(),
		Valid:     m.Valid(),
	}
}
