// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "PIPEBRIDGE_CONFIG"

// Config is the bridge host configuration.
type Config struct {
	// Channel configures the message channel on stdin/stdout.
	Channel ChannelConfig `yaml:"channel"`

	// Transport configures how pipe addresses are opened.
	Transport TransportConfig `yaml:"transport"`

	// Logging configures the stderr log.
	Logging LoggingConfig `yaml:"logging"`

	// Handshake configures the first message written to the client.
	Handshake HandshakeConfig `yaml:"handshake"`
}

// ChannelConfig configures the message channel.
type ChannelConfig struct {
	// Codec is the channel encoding: "json" (newline-delimited) or
	// "cbor".
	// Default: json
	Codec string `yaml:"codec"`

	// MaxMessageSize bounds one encoded message in bytes.
	// Default: 4 MiB
	MaxMessageSize int `yaml:"max_message_size"`
}

// TransportConfig configures the pipe transport.
type TransportConfig struct {
	// Kind selects the transport: "auto", "named-pipe", or
	// "unix-socket". auto picks named pipes on Windows and Unix
	// sockets elsewhere.
	// Default: auto
	Kind string `yaml:"kind"`

	// SocketDirectory holds the Unix sockets that stand in for pipes
	// on non-Windows hosts.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/pipebridge
	SocketDirectory string `yaml:"socket_directory"`

	// PipeBufferSize sets the input and output buffer sizes of named
	// pipe instances created by accept. Zero leaves the system default.
	PipeBufferSize int32 `yaml:"pipe_buffer_size"`

	// MaxReadLength caps the bytes returned by one read command.
	// Default: 1 MiB
	MaxReadLength int `yaml:"max_read_length"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: info
	Level string `yaml:"level"`
}

// HandshakeConfig configures the handshake.
type HandshakeConfig struct {
	// Message is passed to the client verbatim, typically the pipe
	// address the client should use.
	Message string `yaml:"message"`
}

// Default returns the configuration used when no file is given, and the
// base that a loaded file is merged into.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Codec:          "json",
			MaxMessageSize: 4 << 20,
		},
		Transport: TransportConfig{
			Kind:            "auto",
			SocketDirectory: "${XDG_RUNTIME_DIR:-/tmp}/pipebridge",
			MaxReadLength:   1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by PIPEBRIDGE_CONFIG. It
// fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your pipebridge.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults. Unknown
// keys are errors, so a misspelled option is not silently ignored.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.Expand()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Expand expands ${VAR} and ${VAR:-default} patterns in path fields.
// LoadFile calls it; callers building a Config from Default call it
// themselves.
func (c *Config) Expand() {
	c.Transport.SocketDirectory = expandVars(c.Transport.SocketDirectory)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// SlogLevel returns the configured level as a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	codecs := []string{"json", "cbor"}
	if !slices.Contains(codecs, c.Channel.Codec) {
		errs = append(errs, fmt.Errorf("channel.codec must be one of: %v", codecs))
	}
	if c.Channel.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("channel.max_message_size must be positive"))
	}

	kinds := []string{"auto", "named-pipe", "unix-socket"}
	if !slices.Contains(kinds, c.Transport.Kind) {
		errs = append(errs, fmt.Errorf("transport.kind must be one of: %v", kinds))
	}
	if c.Transport.PipeBufferSize < 0 {
		errs = append(errs, fmt.Errorf("transport.pipe_buffer_size must not be negative"))
	}
	if c.Transport.MaxReadLength <= 0 {
		errs = append(errs, fmt.Errorf("transport.max_read_length must be positive"))
	}
	// base64 grows a read by a third; the response must still fit.
	if c.Transport.MaxReadLength > 0 && c.Channel.MaxMessageSize > 0 &&
		c.Transport.MaxReadLength/3*4+1024 > c.Channel.MaxMessageSize {
		errs = append(errs, fmt.Errorf("transport.max_read_length %d does not fit in channel.max_message_size %d once encoded",
			c.Transport.MaxReadLength, c.Channel.MaxMessageSize))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
