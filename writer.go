package blemidi

import (
	"bufio"
	"encoding/binary"
)

// A Writer encodes capture records onto a buffered stream.
type Writer struct {
	wd *bufio.Writer
}

// NewWriter returns a new Writer writing to wd.
func NewWriter(wd *bufio.Writer) *Writer {
	return &Writer{wd: wd}
}

// WriteRecord writes a variable number of records to w and flushes it.
func (w *Writer) WriteRecord(records ...*Record) error {
	var err error
	if len(records) == 1 {
		r := records[0]
		_, err = w.wd.Write(encode(r.Seq, r.Source, r.Data))
	} else {
		_, err = w.wd.Write(encodeBatch(records))
	}
	if err != nil {
		return err
	}

	return w.wd.Flush()
}

func recordHeader(seq int, src Source) uint64 {
	return uint64(seq)<<4 | uint64(src&0b1111)
}

func encode(seq int, src Source, data []byte) []byte {
	header := recordHeader(seq, src)
	length := len(data) + encodingLength(header)
	payload := make([]byte, encodingLength(uint64(length))+length)

	n := binary.PutUvarint(payload, uint64(length))
	n += binary.PutUvarint(payload[n:], header)
	copy(payload[n:], data)

	return payload
}

func encodeBatch(records []*Record) []byte {
	var size int
	for _, r := range records {
		// two varints never take more than 20 bytes
		size += 2*binary.MaxVarintLen64 + len(r.Data)
	}

	payload := make([]byte, size)
	offset := 0

	for _, r := range records {
		header := recordHeader(r.Seq, r.Source)
		length := uint64(len(r.Data) + encodingLength(header))

		offset += binary.PutUvarint(payload[offset:], length)
		offset += binary.PutUvarint(payload[offset:], header)
		offset += copy(payload[offset:], r.Data)
	}

	return payload[:offset]
}
