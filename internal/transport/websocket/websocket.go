// Package websocket implements the connection transport over gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/radarzone/companion/internal/connection"
)

const (
	defaultSendBuffer       = 64
	defaultWriteWait        = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrNotOpen is returned by Send before the handshake completes or after
	// the connection closed.
	ErrNotOpen = errors.New("websocket not open")
	// ErrSendBufferFull is returned when the write loop cannot keep up.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Config holds WebSocket transport configuration.
type Config struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	SendBuffer       int
	Header           http.Header
}

// Transport dials WebSocket connections. It is safe for concurrent use.
type Transport struct {
	cfg    Config
	dialer *ws.Dialer
	logger *slog.Logger
}

var _ connection.Transport = (*Transport)(nil)

// New creates a transport.
func New(cfg Config, logger *slog.Logger) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		dialer: &ws.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger,
	}
}

// Open validates the URL and starts dialing in the background.
func (t *Transport) Open(rawURL string, ev connection.Events) (connection.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket URL scheme %q", u.Scheme)
	}

	c := &conn{
		ev:        ev,
		sendCh:    make(chan []byte, t.cfg.SendBuffer),
		done:      make(chan struct{}),
		writeWait: t.cfg.WriteWait,
		logger:    t.logger.With("url", u.Redacted()),
	}
	go c.run(t.dialer, u.String(), t.cfg.Header, t.cfg.HandshakeTimeout)
	return c, nil
}

type connState int

const (
	stateDialing connState = iota
	stateOpen
	stateClosed
)

// conn manages one WebSocket connection with a single write goroutine.
type conn struct {
	mu     sync.Mutex
	ws     *ws.Conn
	state  connState
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	// local is set when Close was called; callbacks are suppressed from then on.
	local bool

	ev        connection.Events
	writeWait time.Duration
	logger    *slog.Logger
}

func (c *conn) run(d *ws.Dialer, rawURL string, header http.Header, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	wsConn, _, err := d.DialContext(ctx, rawURL, header)
	cancel()

	c.mu.Lock()
	if c.local {
		c.state = stateClosed
		c.mu.Unlock()
		if wsConn != nil {
			_ = wsConn.Close()
		}
		return
	}
	if err != nil {
		c.state = stateClosed
		c.mu.Unlock()
		c.logger.Warn("WebSocket dial failed", "error", err)
		c.emitError(err)
		c.emitClose(connection.CloseAbnormalClosure, err.Error())
		return
	}
	c.ws = wsConn
	c.state = stateOpen
	c.mu.Unlock()

	if c.ev.OnOpen != nil {
		c.ev.OnOpen()
	}
	go c.writeLoop(wsConn)
	c.readLoop(wsConn)
}

// writeLoop drains sendCh and writes messages to the WebSocket. A write
// failure closes the socket, which ends readLoop and reports the close.
func (c *conn) writeLoop(wsConn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := wsConn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				_ = wsConn.Close()
				return
			}
			if err := wsConn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				_ = wsConn.Close()
				return
			}
		}
	}
}

// readLoop delivers frames until the socket fails, then reports the close.
func (c *conn) readLoop(wsConn *ws.Conn) {
	for {
		_, message, err := wsConn.ReadMessage()
		if err != nil {
			code, reason := closeCode(err)
			c.mu.Lock()
			local := c.local
			if c.state != stateClosed {
				c.state = stateClosed
				close(c.done)
			}
			c.mu.Unlock()
			_ = wsConn.Close()
			if local {
				return
			}
			c.logger.Debug("WebSocket read ended", "code", code, "error", err)
			c.emitClose(code, reason)
			return
		}
		if c.ev.OnMessage != nil {
			c.ev.OnMessage(message)
		}
	}
}

func closeCode(err error) (int, string) {
	var ce *ws.CloseError
	if errors.As(err, &ce) {
		if ce.Code == ws.CloseNoStatusReceived {
			return connection.CloseAbnormalClosure, ce.Text
		}
		return ce.Code, ce.Text
	}
	return connection.CloseAbnormalClosure, err.Error()
}

func (c *conn) emitError(err error) {
	if c.ev.OnError != nil {
		c.ev.OnError(err)
	}
}

func (c *conn) emitClose(code int, reason string) {
	if c.ev.OnClose != nil {
		c.ev.OnClose(code, reason)
	}
}

// Send pushes data to the write loop. It never blocks.
func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ErrNotOpen
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Close sends a close frame and shuts down all goroutines. No callbacks
// fire for this connection afterwards.
func (c *conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.local {
		c.mu.Unlock()
		return nil
	}
	c.local = true
	wasOpen := c.state == stateOpen
	if c.state != stateClosed {
		c.state = stateClosed
		close(c.done)
	}
	wsConn := c.ws
	c.mu.Unlock()

	if wsConn == nil || !wasOpen {
		return nil
	}
	_ = wsConn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(code, reason),
		time.Now().Add(c.writeWait),
	)
	return wsConn.Close()
}
