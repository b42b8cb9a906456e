package blemidi

import (
	"encoding/binary"
	"errors"
	"io"
)

// A Reader decodes capture records from an underlying stream.
type Reader struct {
	rd   io.Reader
	buf  []byte
	r, w int
	err  error
}

const (
	minReadBufferSize        = 16
	maxRecordSize            = 1024
	defaultBufSize           = 4096
	maxConsecutiveEmptyReads = 100
)

var (
	ErrRecordSizeExceeded = errors.New("blemidi: capture record too big")
	ErrRecordMalformed    = errors.New("blemidi: capture record malformed")
)

func NewReader(rd io.Reader) *Reader {
	return NewReaderSize(rd, defaultBufSize)
}

func NewReaderSize(rd io.Reader, size int) *Reader {
	if size < minReadBufferSize {
		size = minReadBufferSize
	}
	r := new(Reader)
	r.reset(make([]byte, size), rd)
	return r
}

// ReadRecord reads the next record. It returns io.EOF only when the stream
// ends on a record boundary.
func (b *Reader) ReadRecord() (*Record, error) {
	length, _, err := b.readUvarint()
	if err != nil {
		return nil, err
	}

	if length > maxRecordSize {
		return nil, ErrRecordSizeExceeded
	}
	if length == 0 {
		return nil, ErrRecordMalformed
	}

	header, n, err := b.readUvarint()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if uint64(n) > length {
		return nil, ErrRecordMalformed
	}

	data := make([]byte, int(length)-n)
	if err := b.readFull(data); err != nil {
		return nil, err
	}

	return NewRecord(int(header>>4), Source(header&0b1111), data), nil
}

func (b *Reader) Reset(r io.Reader) {
	if b.buf == nil {
		b.buf = make([]byte, defaultBufSize)
	}
	b.reset(b.buf, r)
}

func (b *Reader) readByte() (byte, error) {
	for b.r == b.w {
		if b.err != nil {
			return 0, b.readErr()
		}
		b.fill()
	}
	c := b.buf[b.r]
	b.r++
	return c, nil
}

func (b *Reader) readFull(p []byte) error {
	for n := 0; n < len(p); {
		if b.r == b.w {
			if b.err != nil {
				err := b.readErr()
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
			b.fill()
			continue
		}
		c := copy(p[n:], b.buf[b.r:b.w])
		b.r += c
		n += c
	}
	return nil
}

func (b *Reader) fill() {
	if b.r > 0 {
		copy(b.buf, b.buf[b.r:b.w])
		b.w -= b.r
		b.r = 0
	}

	if b.w >= len(b.buf) {
		panic("blemidi: tried to fill full buffer")
	}

	for i := maxConsecutiveEmptyReads; i > 0; i-- {
		n, err := b.rd.Read(b.buf[b.w:])
		if n < 0 {
			panic("blemidi: reader returned negative count from Read")
		}
		b.w += n
		if err != nil {
			b.err = err
			return
		}
		if n > 0 {
			return
		}
	}
	b.err = io.ErrNoProgress
}

// readUvarint reads a varint and the number of bytes it took. Errors not
// coming from the underlying reader mean the varint overflowed.
func (b *Reader) readUvarint() (x uint64, n int, err error) {
	var rerr error
	x, err = binary.ReadUvarint(byteReaderFunc(func() (byte, error) {
		c, err := b.readByte()
		if err != nil {
			rerr = err
			return 0, err
		}
		n++
		return c, nil
	}))
	if err != nil && rerr == nil {
		err = ErrRecordMalformed
	}
	return x, n, err
}

func (b *Reader) readErr() error {
	err := b.err
	b.err = nil
	return err
}

func (b *Reader) reset(buf []byte, r io.Reader) {
	*b = Reader{
		rd:  r,
		buf: buf,
	}
}

type byteReaderFunc func() (byte, error)

func (f byteReaderFunc) ReadByte() (byte, error) { return f() }
