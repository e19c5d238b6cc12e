// Package client wires the connection manager, the message dispatcher and
// the session store into one radar zone client and exposes the user intents.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/radarzone/companion/internal/clock"
	"github.com/radarzone/companion/internal/connection"
	"github.com/radarzone/companion/internal/dispatcher"
	"github.com/radarzone/companion/internal/logging"
	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/pkg/core"
	"github.com/radarzone/companion/pkg/streaming"
)

// Options configures a Client.
type Options struct {
	URL       string
	Transport connection.Transport
	Clock     clock.Clock
	Logger    *slog.Logger
	Timing    connection.Timing
	Session   session.Options
}

// Client is safe for concurrent use.
type Client struct {
	store      *session.Store
	manager    *connection.Manager
	dispatcher *dispatcher.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
}

// New builds a client. Nothing is dialled until Start.
func New(opts Options) (*Client, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Session.Now == nil {
		opts.Session.Now = opts.Clock.Now
	}

	c := &Client{
		store:  session.NewStore(opts.Session),
		clock:  opts.Clock,
		logger: opts.Logger,
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	c.dispatcher = d
	c.registerHandlers()

	m, err := connection.New(connection.Options{
		URL:          opts.URL,
		Transport:    opts.Transport,
		Clock:        opts.Clock,
		Logger:       opts.Logger.With("component", "connection"),
		Timing:       opts.Timing,
		OnMessage:    c.route,
		Completeness: c.store,
	})
	if err != nil {
		return nil, err
	}
	m.OnStatus(c.store.SetConnection)
	c.manager = m
	c.store.SetConnection(m.Status())

	return c, nil
}

// route hands one decoded message to its handler. Unknown types are logged
// and dropped.
func (c *Client) route(msg streaming.Inbound, receivedAt time.Time) {
	err := c.dispatcher.Dispatch(dispatcher.NewEvent(msg, receivedAt))
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrNoHandler):
		c.logger.Info("Unhandled message type", "type", msg.InboundType())
	default:
		c.logger.Warn("Message handler failed", "type", msg.InboundType(), "error", err)
	}
}

// Start begins connecting.
func (c *Client) Start() error {
	return c.manager.Start()
}

// Close shuts the connection down.
func (c *Client) Close() {
	c.manager.Close()
}

// Store exposes the session state for readers.
func (c *Client) Store() *session.Store {
	return c.store
}

// Status returns the connection status.
func (c *Client) Status() core.ConnectionStatus {
	return c.manager.Status()
}

// ForceReconnect abandons the connection and reconnects shortly after.
func (c *Client) ForceReconnect() {
	c.manager.ForceReconnect()
}

// SetURL moves the client to a different endpoint.
func (c *Client) SetURL(url string) {
	c.manager.SetURL(url)
}

// AddObserver forwards to the store.
func (c *Client) AddObserver(o session.Observer) {
	c.store.AddObserver(o)
}

// WaitFor blocks until pred holds for a store snapshot or ctx ends.
func (c *Client) WaitFor(ctx context.Context, pred func(session.Snapshot) bool) (session.Snapshot, error) {
	ch, cancel := c.store.Subscribe()
	defer cancel()
	for {
		snap := c.store.Snapshot()
		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}
