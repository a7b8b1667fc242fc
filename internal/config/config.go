package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// Config holds server configuration values.
type Config struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	AdminAddr string `mapstructure:"admin_addr" yaml:"admin_addr"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`

	// Zero disables the timeout. With all three at zero an idle peer keeps its
	// goroutine and registry slot until it disconnects.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	MaxPayloadBytes uint64          `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	EscapeMessages  bool            `mapstructure:"escape_messages" yaml:"escape_messages"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig limits inbound chat messages per connection. A zero rate disables it.
type RateLimitConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Enabled reports whether a limiter should be installed.
func (r RateLimitConfig) Enabled() bool {
	return r.MessagesPerSecond > 0
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		MaxPayloadBytes: proto.DefaultMaxPayloadSize,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFile != "" {
		c.LogFile = other.LogFile
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.IdleTimeout != 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.MaxPayloadBytes != 0 {
		c.MaxPayloadBytes = other.MaxPayloadBytes
	}
	if other.EscapeMessages {
		c.EscapeMessages = true
	}
	if other.RateLimit.MessagesPerSecond != 0 {
		c.RateLimit.MessagesPerSecond = other.RateLimit.MessagesPerSecond
	}
	if other.RateLimit.Burst != 0 {
		c.RateLimit.Burst = other.RateLimit.Burst
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"handshake_timeout": c.HandshakeTimeout,
		"idle_timeout":      c.IdleTimeout,
		"write_timeout":     c.WriteTimeout,
		"shutdown_timeout":  c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.RateLimit.MessagesPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.messages_per_second must not be negative"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit.burst must not be negative"))
	}
	return errors.Join(errs...)
}
