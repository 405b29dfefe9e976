package wsclient

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Endpoint is the resolved handshake target.
type Endpoint struct {
	URL    *url.URL
	Host   string
	Port   string
	Path   string
	Header http.Header
}

// String returns the ws or wss URL.
func (e Endpoint) String() string {
	return e.URL.String()
}

// Endpoint resolves the handshake target: http and https URLs are mapped to
// ws and wss, the default port is filled in, and the Authorization header is
// built from Token.
func (c Config) Endpoint() (Endpoint, error) {
	if c.URL == "" {
		return Endpoint{}, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var defaultPort string
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
		defaultPort = "80"
	case "https", "wss":
		u.Scheme = "wss"
		defaultPort = "443"
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}

	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host", ErrInvalidConfig)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	header := make(http.Header, len(c.Headers)+1)
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	if c.Token != "" {
		header.Set("Authorization", BasicAuthorization(c.Token))
	}

	return Endpoint{
		URL:    u,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
		Header: header,
	}, nil
}

// BasicAuthorization returns the Authorization header value for token sent
// as a password with an empty user name.
func BasicAuthorization(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
}

func (e Endpoint) hostPort() string {
	return net.JoinHostPort(e.Host, e.Port)
}
