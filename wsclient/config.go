package wsclient

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultMaxFrameSize     = 1 << 24
	DefaultSendQueueSize    = 256
)

// Config holds the connection settings of a Client. It can be loaded from
// YAML:
//
//	url: https://api.example.com/socket
//	token: s3cr3t
//	ping_interval: 30s
//	handshake_timeout: 10s
type Config struct {
	// URL of the endpoint. http and https are mapped to ws and wss.
	URL string `yaml:"url"`

	// Token, when set, is sent as HTTP Basic credentials with an empty user
	// name: "Authorization: Basic base64(":" + token)".
	Token string `yaml:"token,omitempty"`

	// Headers are added to the handshake request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Subprotocols requested during the handshake.
	Subprotocols []string `yaml:"subprotocols,omitempty"`

	// PingInterval enables keepalive. Zero disables it.
	PingInterval time.Duration `yaml:"ping_interval,omitempty"`

	// MaxFrameSize bounds incoming frame payloads in bytes.
	MaxFrameSize int64 `yaml:"max_frame_size,omitempty"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`

	// CloseTimeout bounds the wait for the server's close frame.
	CloseTimeout time.Duration `yaml:"close_timeout,omitempty"`

	// SendQueueSize is the number of outgoing frames buffered per connection.
	SendQueueSize int `yaml:"send_queue_size,omitempty"`

	// Proxy is an http, https, socks5 or socks5h proxy URL.
	Proxy string `yaml:"proxy,omitempty"`
}

// DefaultConfig returns a Config with defaults for everything but URL.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:     DefaultMaxFrameSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
		CloseTimeout:     DefaultCloseTimeout,
		SendQueueSize:    DefaultSendQueueSize,
	}
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// Validate checks that the config describes a reachable endpoint.
func (c Config) Validate() error {
	if _, err := c.Endpoint(); err != nil {
		return err
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil {
			return fmt.Errorf("%w: proxy: %w", ErrInvalidConfig, err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidConfig, u.Scheme)
		}
	}
	switch {
	case c.PingInterval < 0:
		return fmt.Errorf("%w: negative ping_interval", ErrInvalidConfig)
	case c.HandshakeTimeout < 0:
		return fmt.Errorf("%w: negative handshake_timeout", ErrInvalidConfig)
	case c.CloseTimeout < 0:
		return fmt.Errorf("%w: negative close_timeout", ErrInvalidConfig)
	case c.SendQueueSize < 0:
		return fmt.Errorf("%w: negative send_queue_size", ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	return c
}
