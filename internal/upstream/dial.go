// Package upstream connects to the Jetstream websocket endpoint and copies
// its frames into the spool, maintaining the time index and retention
// policy as it goes.
//
// The dial path performs the client-side handshake itself over a plain or
// TLS-wrapped TCP stream chosen by a static ws/wss switch, keeping the raw
// bufio.Reader available for zero-copy frame decoding; a generic websocket
// client would own that reader and force a copy out of its buffer on every
// frame.
package upstream

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/asayers/jetrelay/internal/handshake"
)

// DialTimeout bounds the TCP connect and handshake round trip.
const DialTimeout = 10 * time.Second

// Conn is an established, upgraded websocket connection to the upstream,
// ready for frame-by-frame reading via bufio.Reader.
type Conn struct {
	netConn net.Conn
	Reader  *bufio.Reader
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// Dial connects to rawURL (scheme ws or wss), performs the client-side
// websocket upgrade handshake against path+query, and returns a Conn ready
// for frame reads.
func Dial(rawURL string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parsing URL: %w", err)
	}

	var tlsEnabled bool
	switch u.Scheme {
	case "ws":
		tlsEnabled = false
	case "wss":
		tlsEnabled = true
	default:
		return nil, fmt.Errorf("upstream: unknown scheme %q", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if tlsEnabled {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	netConn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("upstream: dialing %s: %w", addr, err)
	}
	if tlsEnabled {
		tlsConn := tls.Client(netConn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			netConn.Close()
			return nil, fmt.Errorf("upstream: TLS handshake: %w", err)
		}
		netConn = tlsConn
	}
	netConn.SetDeadline(time.Now().Add(DialTimeout))

	key, err := generateKey()
	if err != nil {
		netConn.Close()
		return nil, err
	}

	requestPath := u.Path
	if u.RawQuery != "" {
		requestPath += "?" + u.RawQuery
	}
	req := "GET " + requestPath + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := netConn.Write([]byte(req)); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("upstream: writing handshake request: %w", err)
	}

	br := bufio.NewReader(netConn)
	tp := textproto.NewReader(br)

	statusLine, err := tp.ReadLine()
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("upstream: reading status line: %w", err)
	}
	if !strings.Contains(statusLine, "101") {
		netConn.Close()
		return nil, fmt.Errorf("upstream: unexpected status line %q", statusLine)
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("upstream: reading handshake response headers: %w", err)
	}
	want := handshake.Accept(key)
	if got := header.Get("Sec-WebSocket-Accept"); got != want {
		netConn.Close()
		return nil, fmt.Errorf("upstream: Sec-WebSocket-Accept mismatch: want %q, got %q", want, got)
	}

	netConn.SetDeadline(time.Time{})
	return &Conn{netConn: netConn, Reader: br}, nil
}

// generateKey produces a random base64-encoded Sec-WebSocket-Key, per
// RFC 6455 §4.1.
func generateKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("upstream: generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
