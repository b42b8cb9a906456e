// Package bridge forwards the MIDI messages carried by BLE-MIDI packets to a
// byte sink.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/onur1/blemidi"
	"github.com/onur1/blemidi/internal/logging"
	"github.com/onur1/blemidi/internal/uart"
	"github.com/pkg/errors"
)

var (
	ErrDisconnected    = errors.New("bridge: peripheral disconnected")
	ErrRecorderStalled = errors.New("bridge: recorder did not drain before close")
)

const (
	// DefaultPollInterval is used by Run when no positive interval is given.
	DefaultPollInterval = 10 * time.Millisecond

	recordQueueSize = 256
	closeTimeout    = 2 * time.Second
)

// A Recorder receives every packet before it is decoded.
type Recorder interface {
	WriteRecord(records ...*blemidi.Record) error
}

// A RecordReader is a source of previously captured packets.
type RecordReader interface {
	ReadRecord() (*blemidi.Record, error)
}

// Peripheral is a connected BLE-MIDI device.
type Peripheral interface {
	CanNotify() bool
	CanRead() bool
	Subscribe(h func([]byte)) error
	Read() ([]byte, error)
	Disconnected() <-chan struct{}
}

// Stats counts what the bridge has seen since it was created.
type Stats struct {
	Packets    int
	Invalid    int
	Messages   int
	Forwarded  int
	Duplicates int
	SinkErrors int
	// Dropped counts packets not recorded because the recorder fell behind.
	Dropped int
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithRecorder captures every received packet to r. Packets are handed to
// r from a separate goroutine, after their messages reached the sink; when
// r falls behind by more than a queue's worth, packets are dropped from the
// capture, never from the sink.
func WithRecorder(r Recorder) Option {
	return func(b *Bridge) {
		b.recorder = r
	}
}

// Bridge decodes packets and sends each valid message body to a sink, in
// the order the messages appear. Packets from notifications and from polled
// reads may arrive concurrently; they are handled one at a time.
type Bridge struct {
	sink     uart.Sink
	logger   *slog.Logger
	recorder Recorder

	mu       sync.Mutex
	seq      int
	lastRead uint16
	readSeen bool
	dropping bool
	stats    Stats

	records  chan *blemidi.Record
	recorded chan struct{}
}

func New(sink uart.Sink, opts ...Option) *Bridge {
	b := &Bridge{sink: sink}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	if b.recorder != nil {
		b.records = make(chan *blemidi.Record, recordQueueSize)
		b.recorded = make(chan struct{})
		go b.drain(b.records)
	}
	return b
}

// Close stops capturing and waits for queued packets to be recorded. The
// bridge keeps forwarding after Close.
func (b *Bridge) Close() error {
	b.mu.Lock()
	records := b.records
	b.records = nil
	b.mu.Unlock()

	if records == nil {
		return nil
	}
	close(records)

	select {
	case <-b.recorded:
		return nil
	case <-time.After(closeTimeout):
		return ErrRecorderStalled
	}
}

// HandleNotify forwards every valid message of a notified packet.
func (b *Bridge) HandleNotify(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle(blemidi.SourceNotify, buf)
}

// HandleRead forwards the messages of a polled characteristic value. A read
// returns the last value the peripheral set, so messages whose timestamp
// equals the last one seen on this path are skipped.
func (b *Bridge) HandleRead(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle(blemidi.SourceRead, buf)
}

// ResetReads forgets the last read timestamp, for a new connection.
func (b *Bridge) ResetReads() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRead = 0
	b.readSeen = false
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) handle(src blemidi.Source, buf []byte) {
	b.stats.Packets++
	defer b.record(src, buf)

	p := blemidi.NewPacket(buf)
	b.logger.Debug("packet", "source", src.String(), "size", p.Len())

	if !p.Valid() {
		b.stats.Invalid++
		b.logger.Warn("dropping packet", "source", src.String(), "size", p.Len(), logging.Err(p.Err()))
		return
	}

	for p.HasNext() {
		m := p.Next()
		b.stats.Messages++

		if src == blemidi.SourceRead {
			if b.readSeen && m.Timestamp() == b.lastRead {
				b.stats.Duplicates++
				b.logger.Debug("same timestamp as last read", "timestamp", m.Timestamp())
				continue
			}
			b.lastRead, b.readSeen = m.Timestamp(), true
		}

		if b.logger.Enabled(context.Background(), slog.LevelDebug) {
			b.logger.Debug("message",
				"source", src.String(),
				"timestamp", m.Timestamp(),
				"len", m.Len(),
				"valid", m.Valid(),
				"midi", Describe(m.Body()),
			)
		}

		if !m.Valid() {
			continue
		}

		if err := b.sink.Send(m.Body()); err != nil {
			b.stats.SinkErrors++
			b.logger.Warn("sink failed", logging.Err(err))
			continue
		}
		b.stats.Forwarded++
	}
}

// record queues buf for the recorder. buf is copied since the BLE stack may
// reuse it once the handler returns.
func (b *Bridge) record(src blemidi.Source, buf []byte) {
	if b.records == nil {
		return
	}
	b.seq++

	select {
	case b.records <- blemidi.NewRecord(b.seq, src, append([]byte(nil), buf...)):
		if b.dropping {
			b.dropping = false
			b.logger.Info("capture resumed", "seq", b.seq, "dropped", b.stats.Dropped)
		}
	default:
		b.stats.Dropped++
		if !b.dropping {
			b.dropping = true
			b.logger.Warn("capture falling behind, dropping packets", "seq", b.seq)
		}
	}
}

func (b *Bridge) drain(records <-chan *blemidi.Record) {
	defer close(b.recorded)
	for r := range records {
		if err := b.recorder.WriteRecord(r); err != nil {
			b.logger.Warn("capture failed", "seq", r.Seq, logging.Err(err))
		}
	}
}

// Run subscribes to p's notifications and polls its value every poll
// interval until ctx is done or p disconnects. A non-positive poll means
// DefaultPollInterval.
func (b *Bridge) Run(ctx context.Context, p Peripheral, poll time.Duration) error {
	b.ResetReads()

	if poll <= 0 {
		poll = DefaultPollInterval
	}

	if p.CanNotify() {
		if err := p.Subscribe(b.HandleNotify); err != nil {
			b.logger.Warn("subscribe failed", logging.Err(err))
		}
	}

	var tick <-chan time.Time
	if p.CanRead() {
		t := time.NewTicker(poll)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Disconnected():
			return ErrDisconnected
		case <-tick:
			buf, err := p.Read()
			if err != nil {
				b.logger.Warn("read failed", logging.Err(err))
				continue
			}
			b.HandleRead(buf)
		}
	}
}

// Replay feeds captured packets through the bridge until src is exhausted.
func (b *Bridge) Replay(ctx context.Context, src RecordReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := src.ReadRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read capture")
		}

		switch rec.Source {
		case blemidi.SourceNotify:
			b.HandleNotify(rec.Data)
		case blemidi.SourceRead:
			b.HandleRead(rec.Data)
		default:
			b.logger.Warn("skipping record", "seq", rec.Seq, "source", rec.Source.String())
		}
	}
}
