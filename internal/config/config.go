// Package config holds the bridge settings, loaded from an optional JSON file
// and overridden by command line flags.
package config

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/onur1/blemidi"
	"github.com/onur1/blemidi/internal/uart"
	"github.com/pkg/errors"
)

const maxFileSize = 1 * 1024 * 1024

// Duration is a time.Duration written as a string ("10ms") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the complete bridge configuration.
type Config struct {
	SerialPort string           `json:"serial_port"`
	Serial     uart.PortOptions `json:"serial"`

	// DeviceName, when set, must match the advertised local name.
	DeviceName     string   `json:"device_name"`
	ScanTimeout    Duration `json:"scan_timeout"`
	ConnectTimeout Duration `json:"connect_timeout"`
	PollInterval   Duration `json:"poll_interval"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	RecordPath  string `json:"record_path"`
	ForwardAddr string `json:"forward_addr"`
	ListenAddr  string `json:"listen_addr"`
	// PSK is a hex encoded 32 byte key for forwarded capture streams.
	PSK string `json:"psk"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Serial:         uart.MIDI,
		ScanTimeout:    Duration(5 * time.Second),
		ConnectTimeout: Duration(5 * time.Second),
		PollInterval:   Duration(10 * time.Millisecond),
		LogLevel:       "info",
		LogFormat:      "text",
		ListenAddr:     ":7777",
	}
}

// Load reads a JSON file over the defaults. Fields missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", cleanPath)
	}
	return cfg, cfg.Validate()
}

// Validate checks every field and normalizes the serial options.
func (c *Config) Validate() error {
	opts, err := c.Serial.Normalize()
	if err != nil {
		return errors.Wrap(err, "serial")
	}
	c.Serial = opts

	if c.ScanTimeout <= 0 {
		return errors.New("scan_timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}

	if _, err := c.PresharedKey(); err != nil {
		return err
	}
	return nil
}

// PresharedKey decodes PSK, returning nil when unset.
func (c *Config) PresharedKey() ([]byte, error) {
	if c.PSK == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.PSK)
	if err != nil {
		return nil, errors.Wrap(err, "psk")
	}
	if len(key) != blemidi.PresharedKeySize {
		return nil, errors.WithMessage(blemidi.ErrPresharedKeyLength, "psk")
	}
	return key, nil
}
