// Package dispatcher routes decoded inbound frames to the handler registered
// for their message type.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/radarzone/companion/pkg/streaming"
)

// ErrNoHandler is returned by Dispatch when nothing is registered for the
// event's message type.
var ErrNoHandler = errors.New("no handler registered")

// Event is one decoded inbound frame.
type Event struct {
	Type       string
	Message    streaming.Inbound
	ReceivedAt time.Time
}

// NewEvent wraps a decoded message.
func NewEvent(msg streaming.Inbound, receivedAt time.Time) Event {
	return Event{Type: msg.InboundType(), Message: msg, ReceivedAt: receivedAt}
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Handle adapts a handler for one concrete message type. Events carrying a
// different type are rejected with an error rather than a panic.
func Handle[T streaming.Inbound](fn func(T, Event) error) HandlerFunc {
	return func(e Event) error {
		msg, ok := e.Message.(T)
		if !ok {
			return fmt.Errorf("%s: unexpected payload %T", e.Type, e.Message)
		}
		return fn(msg, e)
	}
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers. Registration happens
// during setup; Dispatch is then called from a single goroutine at a time.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	processed metric.Int64Counter
	failed    metric.Int64Counter
	unhandled metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.messages.processed",
		metric.WithDescription("Total inbound messages handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.messages.failed",
		metric.WithDescription("Total inbound messages whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.unhandled, err = m.Int64Counter(
		"dispatcher.messages.unhandled",
		metric.WithDescription("Total inbound messages with no registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unhandled counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given message type with optional
// configuration. A later registration for the same type replaces the earlier.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(msgType, handler)
	}

	d.handlers[msgType] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	attrs := metric.WithAttributes(attribute.String("type", e.Type))

	h, ok := d.handlers[e.Type]
	if !ok {
		d.unhandled.Add(context.Background(), 1, attrs)
		return fmt.Errorf("%w: %s", ErrNoHandler, e.Type)
	}

	err := h(e)
	d.processed.Add(context.Background(), 1, attrs)
	if err != nil {
		d.failed.Add(context.Background(), 1, attrs)
	}
	return err
}

// HasHandler returns true if a handler is registered for the message type.
func (d *Dispatcher) HasHandler(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}

// Types returns the registered message types.
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

func (d *Dispatcher) withLogging(msgType string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling message", "type", msgType)

		err := h(e)

		if err != nil {
			d.logger.Error("message failed", "type", msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "type", msgType, "duration", time.Since(start))
		}

		return err
	}
}
