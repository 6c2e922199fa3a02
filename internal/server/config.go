// Package server ties the chat core to the network: configuration, the
// accept loop, per-connection read/write loops and graceful shutdown.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wirehub/chatd/pkg/protocol"
)

// Framing mode names accepted in configuration.
const (
	FramingBinary = "binary"
	FramingLine   = "line"
)

// Config is the server configuration, loaded from a TOML file.
type Config struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
	Chat      ChatSection      `toml:"chat"`
}

type ServerSection struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	MetricsPort            int    `toml:"metrics_port"` // 0 disables the metrics endpoint
	Framing                string `toml:"framing"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

type LimitsSection struct {
	MaxConnections      int `toml:"max_connections"` // 0 = unbounded
	MaxFrameSize        int `toml:"max_frame_size"`
	OutboundBufferCap   int `toml:"outbound_buffer_cap"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

type HeartbeatSection struct {
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	HardTimeoutSeconds   int `toml:"hard_timeout_seconds"`
	// MissedProbeThreshold evicts after this many unanswered probes; 0
	// relies on the hard timeout alone.
	MissedProbeThreshold int `toml:"missed_probe_threshold"`
}

type ChatSection struct {
	EchoToSender bool `toml:"echo_to_sender"`
	HistorySize  int  `toml:"history_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerSection{
			Host:                   "localhost",
			Port:                   3000,
			Framing:                FramingBinary,
			ShutdownTimeoutSeconds: 10,
		},
		Limits: LimitsSection{
			MaxConnections:      0,
			MaxFrameSize:        protocol.DefaultMaxFrameSize,
			OutboundBufferCap:   256,
			WriteTimeoutSeconds: 10,
		},
		Heartbeat: HeartbeatSection{
			ProbeIntervalSeconds: 30,
			HardTimeoutSeconds:   60,
			MissedProbeThreshold: 0,
		},
		Chat: ChatSection{
			EchoToSender: false,
			HistorySize:  0,
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
// when the file does not exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.Framing != FramingBinary && c.Server.Framing != FramingLine {
		return fmt.Errorf("unknown framing %q (want %q or %q)", c.Server.Framing, FramingBinary, FramingLine)
	}
	if c.Limits.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.Limits.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive")
	}
	if c.Heartbeat.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("probe_interval_seconds must be positive")
	}
	if c.Heartbeat.HardTimeoutSeconds <= 0 {
		return fmt.Errorf("hard_timeout_seconds must be positive")
	}
	return nil
}

// Addr returns the listening address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SplitAddr parses a host:port pair, as taken from a command-line override.
func SplitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

// ShutdownTimeout returns the graceful shutdown drain bound.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// WriteTimeout returns the per-write deadline.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
}

// ProbeInterval returns the heartbeat probe spacing.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Heartbeat.ProbeIntervalSeconds) * time.Second
}

// HardTimeout returns the inactivity backstop.
func (c Config) HardTimeout() time.Duration {
	return time.Duration(c.Heartbeat.HardTimeoutSeconds) * time.Second
}

// NewFraming builds the configured framing.
func (c Config) NewFraming() (protocol.Framing, error) {
	switch c.Server.Framing {
	case FramingBinary:
		return protocol.NewBinaryFraming(c.Limits.MaxFrameSize), nil
	case FramingLine:
		return protocol.NewLineFraming(c.Limits.MaxFrameSize), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", c.Server.Framing)
	}
}
