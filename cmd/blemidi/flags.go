package main

import (
	"flag"
	"io"
	"log/slog"

	"github.com/onur1/blemidi/internal/config"
	"github.com/onur1/blemidi/internal/logging"
	"github.com/onur1/blemidi/internal/uart"
	"github.com/pkg/errors"
)

// commonFlags are accepted by every command that forwards messages.
type commonFlags struct {
	configPath string
	port       string
	baud       int
	logLevel   string
	logFormat  string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "JSON configuration file")
	fs.StringVar(&f.port, "port", "", "Serial port (prints hex on stdout when empty)")
	fs.IntVar(&f.baud, "baud", 0, "Serial baud rate (default 31250)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
}

// config loads the configuration file, if any, and applies the flags over
// it. The result is not validated yet.
func (f *commonFlags) config() (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if f.port != "" {
		cfg.SerialPort = f.port
	}
	if f.baud != 0 {
		cfg.Serial.BaudRate = f.baud
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat, logging.WithWriter(stderr))
}

// openSink opens the configured serial port, or a hex printer on stdout
// when no port is set.
func openSink(cfg *config.Config, stdout io.Writer) (uart.Sink, func() error, error) {
	if cfg.SerialPort == "" {
		return uart.NewHexSink(stdout), func() error { return nil }, nil
	}
	p, err := uart.Open(cfg.SerialPort, cfg.Serial)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open sink")
	}
	return p, p.Close, nil
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) error {
	fs.SetOutput(stderr)
	return fs.Parse(args)
}
