package wsclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vitalvas/resock/lifecycle"
	"github.com/vitalvas/resock/reachability"
	"github.com/vitalvas/resock/websocket"
)

// Transport performs the opening handshake and returns an idle engine.
// *websocket.Dialer implements it.
type Transport interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Engine, *http.Response, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport replaces the websocket.Dialer built from the config.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithReachability subscribes the client to network reachability events.
func WithReachability(src reachability.Source) Option {
	return func(c *Client) {
		c.reach = src
	}
}

// WithLifecycle subscribes the client to foreground-after-expiry events.
func WithLifecycle(src lifecycle.Source) Option {
	return func(c *Client) {
		c.life = src
	}
}

// WithDelegate sets the initial delegate.
func WithDelegate(d Delegate) Option {
	return func(c *Client) {
		c.delegate = d
	}
}

func newDialer(cfg Config, logger *slog.Logger) (*websocket.Dialer, error) {
	d := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     cfg.Subprotocols,
		MaxFrameSize:     cfg.MaxFrameSize,
		CloseTimeout:     cfg.CloseTimeout,
		SendQueueSize:    cfg.SendQueueSize,
		Logger:           logger,
	}

	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		d.Proxy = http.ProxyURL(u)
	}

	return d, nil
}
