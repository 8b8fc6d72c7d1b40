// Package wstransport adapts a WebSocket connection into the reliable
// duplex byte stream a Mumble data channel expects. Some Mumble-web
// deployments expose the control stream over WebSocket instead of raw
// TLS; each binary WebSocket message carries a slice of the framed
// stream.
package wstransport

import (
	"crypto/tls"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 30 * time.Second

// Conn is an io.ReadWriteCloser over a WebSocket connection.
type Conn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
	buf     []byte
}

// Dial connects to a WebSocket endpoint and wraps it. The TLS config
// applies to wss:// URLs.
func Dial(url string, tlsConfig *tls.Config, header http.Header) (*Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: dialTimeout,
		TLSClientConfig:  tlsConfig,
	}
	ws, resp, err := dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return New(ws), nil
}

// New wraps an established WebSocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read copies bytes out of the current WebSocket message, pulling the
// next binary message when the current one is exhausted.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.buf) == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.buf = data
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write sends p as one binary WebSocket message.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and tears the WebSocket down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.writeMu.Unlock()
	return c.ws.Close()
}
