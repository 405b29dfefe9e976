package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultDialer is a dialer with all fields set to the default values.
var DefaultDialer = &Dialer{}

// HandshakeError is returned when the server answers the opening handshake
// with a status other than 101 Switching Protocols.
type HandshakeError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	return "websocket: bad handshake: " + e.Status
}

func (e *HandshakeError) Unwrap() error {
	return ErrBadHandshake
}

// Dialer contains options for connecting to WebSocket server.
type Dialer struct {
	// NetDialContext specifies the dial function for creating TCP connections with context.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// NetDialTLSContext specifies the dial function for creating TLS connections with context.
	NetDialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy specifies a function to return a proxy for a given Request.
	// http and https proxies are tunnelled with CONNECT; socks5 and socks5h
	// proxies are dialed through golang.org/x/net/proxy.
	Proxy func(*http.Request) (*url.URL, error)

	// TLSClientConfig specifies the TLS configuration to use with tls.Client.
	TLSClientConfig *tls.Config

	// HandshakeTimeout specifies the duration for the handshake to complete.
	HandshakeTimeout time.Duration

	// Subprotocols specifies the client's requested subprotocols.
	Subprotocols []string

	// Jar specifies the cookie jar.
	Jar http.CookieJar

	// MaxFrameSize, CloseTimeout and SendQueueSize configure the engine of
	// each established connection. See EngineConfig.
	MaxFrameSize  int64
	CloseTimeout  time.Duration
	SendQueueSize int

	Logger *slog.Logger
}

// Dial creates a new client connection to the WebSocket server.
func (d *Dialer) Dial(urlStr string, requestHeader http.Header) (*Engine, *http.Response, error) {
	return d.DialContext(context.Background(), urlStr, requestHeader)
}

// DialContext creates a new client connection with the provided context.
// This implements the client-side opening handshake per RFC 6455, section 4.1.
// The returned engine is idle until Start is called.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*Engine, *http.Response, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, err
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, nil, errors.New("websocket: bad scheme")
	}

	if u.Host == "" {
		return nil, nil, errors.New("websocket: empty host")
	}

	hostPort := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "http":
			hostPort = net.JoinHostPort(u.Hostname(), "80")
		case "https":
			hostPort = net.JoinHostPort(u.Hostname(), "443")
		}
	}

	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	netConn, err := d.dial(ctx, u, hostPort)
	if err != nil {
		return nil, nil, err
	}

	// Unblock the handshake read when ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = netConn.SetDeadline(time.Now())
	})

	engine, resp, err := d.doHandshake(netConn, u, requestHeader)
	if !stop() {
		// The deadline was forced; report why.
		err = ctx.Err()
	}
	if err != nil {
		netConn.Close()
		return nil, resp, err
	}

	if err := netConn.SetDeadline(time.Time{}); err != nil {
		netConn.Close()
		return nil, resp, err
	}

	return engine, resp, nil
}

func (d *Dialer) dial(ctx context.Context, u *url.URL, hostPort string) (net.Conn, error) {
	var proxyURL *url.URL
	if d.Proxy != nil {
		req := &http.Request{URL: u}
		var err error
		proxyURL, err = d.Proxy(req)
		if err != nil {
			return nil, err
		}
	}

	if proxyURL != nil {
		return d.dialProxy(ctx, proxyURL, u, hostPort)
	}

	if u.Scheme == "https" {
		if d.NetDialTLSContext != nil {
			return d.NetDialTLSContext(ctx, "tcp", hostPort)
		}

		netConn, err := d.netDial(ctx, hostPort)
		if err != nil {
			return nil, err
		}
		return d.clientTLS(ctx, netConn, u.Hostname())
	}

	return d.netDial(ctx, hostPort)
}

func (d *Dialer) netDial(ctx context.Context, hostPort string) (net.Conn, error) {
	if d.NetDialContext != nil {
		return d.NetDialContext(ctx, "tcp", hostPort)
	}

	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", hostPort)
}

func (d *Dialer) dialProxy(ctx context.Context, proxyURL *url.URL, targetURL *url.URL, hostPort string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)

	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		conn, err = dialSOCKS(ctx, proxyURL, hostPort)
	case "http", "https", "":
		conn, err = d.dialConnect(ctx, proxyURL, hostPort)
	default:
		return nil, errors.New("websocket: unsupported proxy scheme " + proxyURL.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if targetURL.Scheme == "https" {
		return d.clientTLS(ctx, conn, targetURL.Hostname())
	}
	return conn, nil
}

func dialSOCKS(ctx context.Context, proxyURL *url.URL, hostPort string) (net.Conn, error) {
	dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", hostPort)
	}
	return dialer.Dial("tcp", hostPort)
}

// dialConnect tunnels through an HTTP proxy with the CONNECT method.
func (d *Dialer) dialConnect(ctx context.Context, proxyURL *url.URL, hostPort string) (net.Conn, error) {
	proxyHost := proxyURL.Host
	if proxyURL.Port() == "" {
		proxyHost = net.JoinHostPort(proxyURL.Hostname(), "80")
	}

	proxyConn, err := d.netDial(ctx, proxyHost)
	if err != nil {
		return nil, err
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: hostPort},
		Host:   hostPort,
		Header: make(http.Header),
	}

	if proxyURL.User != nil {
		username := proxyURL.User.Username()
		password, _ := proxyURL.User.Password()
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+auth)
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, err
	}

	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, errors.New("websocket: proxy CONNECT failed: " + resp.Status)
	}

	return proxyConn, nil
}

func (d *Dialer) clientTLS(ctx context.Context, netConn net.Conn, serverName string) (net.Conn, error) {
	tlsConfig := d.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}

	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = serverName
	}

	tlsConn := tls.Client(netConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		netConn.Close()
		return nil, err
	}

	return tlsConn, nil
}

// doHandshake performs the client-side opening handshake per RFC 6455, section 4.1.
func (d *Dialer) doHandshake(netConn net.Conn, u *url.URL, requestHeader http.Header) (*Engine, *http.Response, error) {
	challengeKey := generateChallengeKey()

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}

	for k, vs := range requestHeader {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// Set required headers per RFC 6455, section 4.1.
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", challengeKey)
	req.Header.Set("Sec-WebSocket-Version", websocketVersion)

	if len(d.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(d.Subprotocols, ", "))
	}

	if d.Jar != nil {
		for _, cookie := range d.Jar.Cookies(u) {
			req.AddCookie(cookie)
		}
	}

	if err := req.Write(netConn); err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, err
	}

	if d.Jar != nil {
		if rc := resp.Cookies(); len(rc) > 0 {
			d.Jar.SetCookies(u, rc)
		}
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		defer resp.Body.Close()
		return nil, resp, &HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return nil, resp, ErrBadHandshake
	}

	if !strings.EqualFold(resp.Header.Get("Connection"), "upgrade") {
		return nil, resp, ErrBadHandshake
	}

	// Validate Sec-WebSocket-Accept per RFC 6455, section 4.2.2, item 5.4.
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(challengeKey) {
		return nil, resp, ErrBadHandshake
	}

	// The server must select one of the requested subprotocols.
	subprotocol := resp.Header.Get("Sec-WebSocket-Protocol")
	if subprotocol != "" && !slices.Contains(d.Subprotocols, subprotocol) {
		return nil, resp, ErrBadHandshake
	}

	engine := NewEngine(netConn, EngineConfig{
		Role:          RoleClient,
		Reader:        br,
		MaxFrameSize:  d.MaxFrameSize,
		CloseTimeout:  d.CloseTimeout,
		SendQueueSize: d.SendQueueSize,
		Subprotocol:   subprotocol,
		Logger:        d.Logger,
	})

	return engine, resp, nil
}

// generateChallengeKey generates a 16-byte random key encoded in base64
// per RFC 6455, section 4.1.
func generateChallengeKey() string {
	key := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}
