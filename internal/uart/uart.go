// Package uart forwards decoded MIDI bytes to a serial line.
package uart

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

var ErrShortWrite = errors.New("uart: short write")

// A Sink receives MIDI message bodies, one call per message.
type Sink interface {
	Send(b []byte) error
}

// Porter is the part of a serial port the sink needs. It lets tests run
// without hardware.
type Porter interface {
	io.Writer
	io.Closer
}

// Opener opens the serial port at path.
type Opener func(path string, mode *serial.Mode) (Porter, error)

func openSerial(path string, mode *serial.Mode) (Porter, error) {
	return serial.Open(path, mode)
}

// Port is a Sink writing to a serial port.
type Port struct {
	mu   sync.Mutex
	port Porter
	path string
	opts PortOptions
}

// Open opens the serial port at path with opts.
func Open(path string, opts PortOptions) (*Port, error) {
	return OpenWith(openSerial, path, opts)
}

// OpenWith is Open with a custom opener.
func OpenWith(open Opener, path string, opts PortOptions) (*Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, errors.Wrap(err, "serial options")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, errors.Wrap(err, "serial options")
	}

	p, err := open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", path)
	}

	return &Port{port: p, path: path, opts: opts}, nil
}

// Send writes b to the port in full.
func (p *Port) Send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(b) > 0 {
		n, err := p.port.Write(b)
		if err != nil {
			return errors.Wrapf(err, "write %s", p.path)
		}
		if n == 0 {
			return ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// Close closes the port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}

func (p *Port) String() string {
	return fmt.Sprintf("%s (%s)", p.path, p.opts)
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	return ports, nil
}

// WriterSink is a Sink writing raw bytes to any io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(b)
	return err
}

// HexSink is a Sink printing one line of hex per message.
type HexSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewHexSink(w io.Writer) *HexSink {
	return &HexSink{w: w}
}

func (s *HexSink) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "% x\n", b)
	return err
}
