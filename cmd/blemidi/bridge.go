package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/onur1/blemidi"
	"github.com/onur1/blemidi/internal/bridge"
	"github.com/onur1/blemidi/internal/central"
	"github.com/onur1/blemidi/internal/config"
	"github.com/onur1/blemidi/internal/logging"
	"github.com/pkg/errors"
)

func runBridge(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	name := fs.String("name", "", "Only connect to peripherals advertising this name")
	record := fs.String("record", "", "Append every received packet to this capture file")
	forward := fs.String("forward", "", "Forward every received packet to a listening blemidi (host:port)")
	psk := fs.String("psk", "", "Hex encoded 32 byte key for -forward")
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}

	cfg, err := common.config()
	if err != nil {
		return err
	}
	if *name != "" {
		cfg.DeviceName = *name
	}
	if *record != "" {
		cfg.RecordPath = *record
	}
	if *forward != "" {
		cfg.ForwardAddr = *forward
	}
	if *psk != "" {
		cfg.PSK = *psk
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	sink, closeSink, err := openSink(cfg, stdout)
	if err != nil {
		return err
	}
	defer closeSink()

	rec, closeRec, err := openRecorders(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRec()

	host, err := central.NewHost()
	if err != nil {
		return err
	}
	defer host.Stop()

	scanner := central.NewScanner(host, central.Options{
		DeviceName:     cfg.DeviceName,
		ScanTimeout:    time.Duration(cfg.ScanTimeout),
		ConnectTimeout: time.Duration(cfg.ConnectTimeout),
	}, logger.With("component", "central"))

	opts := []bridge.Option{bridge.WithLogger(logger.With("component", "bridge"))}
	if rec != nil {
		opts = append(opts, bridge.WithRecorder(rec))
	}
	br := bridge.New(sink, opts...)
	defer func() {
		if err := br.Close(); err != nil {
			logger.Warn("capture not flushed", logging.Err(err))
		}
	}()

	logger.Info("bridge started", "sink", sinkName(cfg), "serial", cfg.Serial.String())
	err = serve(ctx, scanner, br, time.Duration(cfg.PollInterval), logger)
	logger.Info("bridge stopped", "stats", br.Stats())
	return err
}

type connector interface {
	Connect(ctx context.Context) (central.Client, error)
}

// serve connects, bridges until the peripheral goes away and connects again,
// until ctx is done.
func serve(ctx context.Context, c connector, br *bridge.Bridge, poll time.Duration, logger *slog.Logger) error {
	for {
		client, err := c.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		logger.Info("connected", "addr", client.Addr(), "notify", client.CanNotify(), "read", client.CanRead())
		err = br.Run(ctx, client, poll)
		if cerr := client.Close(); cerr != nil {
			logger.Debug("close client", logging.Err(cerr))
		}

		if ctx.Err() != nil {
			return nil
		}
		logger.Info("disconnected", "addr", client.Addr(), logging.Err(err))
	}
}

func sinkName(cfg *config.Config) string {
	if cfg.SerialPort == "" {
		return "stdout"
	}
	return cfg.SerialPort
}

// recorders sends each record to every recorder in turn.
type recorders []bridge.Recorder

func (rs recorders) WriteRecord(records ...*blemidi.Record) error {
	var first error
	for _, r := range rs {
		if err := r.WriteRecord(records...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openRecorders(cfg *config.Config, logger *slog.Logger) (bridge.Recorder, func() error, error) {
	var (
		rs      recorders
		closers []io.Closer
	)
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if cfg.RecordPath != "" {
		f, err := os.OpenFile(cfg.RecordPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open capture file")
		}
		closers = append(closers, f)
		rs = append(rs, blemidi.NewWriter(bufio.NewWriter(f)))
		logger.Info("recording", "path", cfg.RecordPath)
	}

	if cfg.ForwardAddr != "" {
		key, err := cfg.PresharedKey()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeout))
		conn, err := blemidi.DialContext(ctx, "tcp", cfg.ForwardAddr)
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrapf(err, "dial %s", cfg.ForwardAddr)
		}
		sc, err := blemidi.Client(conn, key)
		if err != nil {
			conn.Close()
			closeAll()
			return nil, nil, errors.Wrapf(err, "handshake with %s", cfg.ForwardAddr)
		}
		closers = append(closers, sc)
		rs = append(rs, sc)
		logger.Info("forwarding", "addr", cfg.ForwardAddr, "psk", key != nil)
	}

	if len(rs) == 0 {
		return nil, closeAll, nil
	}
	return rs, closeAll, nil
}
