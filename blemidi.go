// Package blemidi decodes BLE-MIDI characteristic values into timestamped
// MIDI messages, and records or streams the raw packets as capture records.
package blemidi

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/textproto"
)

// Conn carries capture records in both directions over one stream, such as
// the TCP link between a bridge forwarding what it receives and a listener
// replaying it. Records written by concurrent senders are never interleaved.
type Conn struct {
	Reader
	Writer
	textproto.Pipeline
	conn io.ReadWriteCloser
}

func NewConn(conn io.ReadWriteCloser) *Conn {
	r, w := NewReaderSize(bufio.NewReader(conn), minReadBufferSize), NewWriter(bufio.NewWriter(conn))
	return &Conn{
		Reader: *r,
		Writer: *w,
		conn:   conn,
	}
}

// Send writes records as one flushed batch once every earlier Send on c has
// finished, and returns the batch's position in that order.
func (c *Conn) Send(r ...*Record) (id uint, err error) {
	id = c.Next()
	c.StartRequest(id)
	err = c.WriteRecord(r...)
	c.EndRequest(id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// DialContext connects to a capture listener.
func DialContext(ctx context.Context, network, addr string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// Dial is DialContext without a deadline.
func Dial(network, addr string) (*Conn, error) {
	return DialContext(context.Background(), network, addr)
}
