package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/onur1/blemidi"
	"github.com/onur1/blemidi/internal/bridge"
	"github.com/onur1/blemidi/internal/logging"
	"github.com/onur1/blemidi/internal/uart"
	"github.com/pkg/errors"
)

func runReplay(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("replay: expected one capture file")
	}

	cfg, err := common.config()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return errors.Wrap(err, "open capture file")
	}
	defer f.Close()

	sink, closeSink, err := openSink(cfg, stdout)
	if err != nil {
		return err
	}
	defer closeSink()

	br := bridge.New(sink, bridge.WithLogger(logger))
	if err := br.Replay(ctx, blemidi.NewReader(f)); err != nil {
		return err
	}
	logger.Info("replay done", "path", fs.Arg(0), "stats", br.Stats())
	return nil
}

func runListen(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "Address to accept forwarded streams on (default :7777)")
	psk := fs.String("psk", "", "Hex encoded 32 byte key shared with the forwarding bridge")
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}

	cfg, err := common.config()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *psk != "" {
		cfg.PSK = *psk
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	key, err := cfg.PresharedKey()
	if err != nil {
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

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.ListenAddr)
	}
	logger.Info("listening", "addr", ln.Addr().String(), "psk", key != nil)

	return acceptStreams(ctx, ln, key, sink, logger)
}

// acceptStreams replays every forwarded stream accepted on ln into sink
// until ctx is done. Each stream gets its own bridge.
func acceptStreams(ctx context.Context, ln net.Listener, key []byte, sink uart.Sink, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handleStream(ctx, c, key, sink, logger.With("remote", c.RemoteAddr().String()))
		}()
	}
}

func handleStream(ctx context.Context, c net.Conn, key []byte, sink uart.Sink, logger *slog.Logger) {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	sc, err := blemidi.Server(blemidi.NewConn(c), key)
	if err != nil {
		logger.Warn("handshake failed", logging.Err(err))
		return
	}
	logger.Info("stream opened")

	br := bridge.New(sink, bridge.WithLogger(logger))
	if err := br.Replay(ctx, sc); err != nil && ctx.Err() == nil {
		logger.Warn("stream failed", logging.Err(err))
	}
	logger.Info("stream closed", "stats", br.Stats())
}

func runDump(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("dump: expected one capture file")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return errors.Wrap(err, "open capture file")
	}
	defer f.Close()

	return dump(blemidi.NewReader(f), stdout)
}

// dump prints one line per record followed by one indented line per
// message it carries.
func dump(r bridge.RecordReader, w io.Writer) error {
	for {
		rec, err := r.ReadRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read capture")
		}

		fmt.Fprintf(w, "#%d %s % x\n", rec.Seq, rec.Source, rec.Data)

		p := blemidi.NewPacket(rec.Data)
		if !p.Valid() {
			fmt.Fprintf(w, "\tinvalid: %v\n", p.Err())
			continue
		}
		for _, m := range p.Messages() {
			if !m.Valid() {
				fmt.Fprintf(w, "\ttruncated % x\n", m.Raw())
				continue
			}
			fmt.Fprintf(w, "\t%5d\t%s\n", m.Timestamp(), bridge.Describe(m.Body()))
		}
	}
}

func runPorts(stdout io.Writer) error {
	ports, err := uart.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(stdout, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(stdout, p)
	}
	return nil
}
