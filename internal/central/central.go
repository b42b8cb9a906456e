// Package central finds BLE-MIDI peripherals and connects to their MIDI I/O
// characteristic.
package central

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/onur1/blemidi/internal/logging"
	"github.com/pkg/errors"
)

// BLE-MIDI service and its data I/O characteristic.
const (
	ServiceUUID        = "03B80E5A-EDE8-4B33-A751-6CE34EC4C700"
	CharacteristicUUID = "7772E5DB-3868-4112-A1A9-F2669D106BF3"
)

var (
	ErrUnsupportedPlatform    = errors.New("central: no BLE host device on this platform")
	ErrNotFound               = errors.New("central: no MIDI peripheral found")
	ErrCharacteristicNotFound = errors.New("central: MIDI characteristic not found")

	errScanEnded = errors.New("central: scan ended before its timeout")
)

var (
	serviceUUID        = ble.MustParse(ServiceUUID)
	characteristicUUID = ble.MustParse(CharacteristicUUID)
)

// Client is a connected MIDI peripheral.
type Client interface {
	Addr() string
	CanNotify() bool
	CanRead() bool
	// Subscribe registers h for notifications. h runs on the BLE stack's
	// goroutine.
	Subscribe(h func([]byte)) error
	Read() ([]byte, error)
	Disconnected() <-chan struct{}
	Close() error
}

// Host is the local BLE controller.
type Host interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

type Options struct {
	// DeviceName, when set, must equal the advertised local name.
	DeviceName     string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	// RetryDelay is the pause after a failed connection attempt.
	RetryDelay time.Duration
}

// Scanner connects to the first MIDI peripheral it sees.
type Scanner struct {
	host   Host
	opts   Options
	logger *slog.Logger
}

func NewScanner(host Host, opts Options, logger *slog.Logger) *Scanner {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{host: host, opts: opts, logger: logger}
}

// Connect scans until a MIDI peripheral is connected or ctx is done. Each
// scan lasts at most the scan timeout and is restarted when it finds
// nothing. A scan the host ends early is retried after the retry delay.
func (s *Scanner) Connect(ctx context.Context) (Client, error) {
	for {
		c, err := s.connectOnce(ctx)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("scan ended, restarting scan")
			continue
		}

		s.logger.Warn("connect failed", logging.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

func (s *Scanner) connectOnce(ctx context.Context) (Client, error) {
	adv, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("found MIDI service", "name", adv.LocalName(), "addr", adv.Addr().String(), "rssi", adv.RSSI())

	dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	cln, err := s.host.Dial(dctx, adv.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", adv.Addr())
	}

	p, err := cln.DiscoverProfile(true)
	if err != nil {
		cln.CancelConnection()
		return nil, errors.Wrap(err, "discover profile")
	}

	c := findCharacteristic(p)
	if c == nil {
		cln.CancelConnection()
		return nil, ErrCharacteristicNotFound
	}

	s.logger.Info("connected", "addr", cln.Addr().String(), "rssi", cln.ReadRSSI())
	return &peripheral{cln: cln, chr: c}, nil
}

func (s *Scanner) scan(ctx context.Context) (ble.Advertisement, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	defer cancel()

	found := make(chan ble.Advertisement, 1)
	err := s.host.Scan(sctx, false, func(a ble.Advertisement) {
		if !s.match(a) {
			return
		}
		select {
		case found <- a:
			cancel()
		default:
		}
	})

	select {
	case a := <-found:
		return a, nil
	default:
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if sctx.Err() == nil {
		if err != nil {
			return nil, errors.Wrap(err, "scan")
		}
		return nil, errScanEnded
	}
	return nil, ErrNotFound
}

func (s *Scanner) match(a ble.Advertisement) bool {
	if s.opts.DeviceName != "" && !strings.EqualFold(a.LocalName(), s.opts.DeviceName) {
		return false
	}
	for _, u := range a.Services() {
		if u.Equal(serviceUUID) {
			return true
		}
	}
	return false
}

func findCharacteristic(p *ble.Profile) *ble.Characteristic {
	if p == nil {
		return nil
	}
	for _, svc := range p.Services {
		if !svc.UUID.Equal(serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(characteristicUUID) {
				return c
			}
		}
	}
	return nil
}

type peripheral struct {
	cln ble.Client
	chr *ble.Characteristic
}

func (p *peripheral) Addr() string {
	return p.cln.Addr().String()
}

func (p *peripheral) CanNotify() bool {
	return p.chr.Property&ble.CharNotify != 0
}

func (p *peripheral) CanRead() bool {
	return p.chr.Property&ble.CharRead != 0
}

func (p *peripheral) Subscribe(h func([]byte)) error {
	return errors.Wrap(p.cln.Subscribe(p.chr, false, h), "subscribe")
}

func (p *peripheral) Read() ([]byte, error) {
	b, err := p.cln.ReadCharacteristic(p.chr)
	return b, errors.Wrap(err, "read characteristic")
}

func (p *peripheral) Disconnected() <-chan struct{} {
	return p.cln.Disconnected()
}

func (p *peripheral) Close() error {
	return p.cln.CancelConnection()
}
