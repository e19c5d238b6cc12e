package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/radarzone/companion/pkg/core"
)

func TestContextHandler_AddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	calls := 0
	h := NewContextHandler(inner, func() []slog.Attr {
		calls++
		return []slog.Attr{slog.Int("n", calls)}
	})

	logger := slog.New(h).With("component", "x").WithGroup("g")
	logger.Info("one")
	logger.Info("two")

	out := buf.String()
	assert.Contains(t, out, "component=x")
	assert.Contains(t, out, "g.n=1")
	assert.Contains(t, out, "g.n=2")
}

func TestContextHandler_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), nil)).Info("plain")
	assert.Contains(t, buf.String(), "plain")
}

func TestConnectionContext(t *testing.T) {
	st := core.ConnectionStatus{State: core.Connected}
	p := ConnectionContext(func() core.ConnectionStatus { return st })

	attrs := p()
	assert.Len(t, attrs, 1)
	assert.Equal(t, "connected", attrs[0].Value.String())

	st = core.ConnectionStatus{State: core.Reconnecting, Failures: 2}
	attrs = p()
	assert.Len(t, attrs, 2)
	assert.Equal(t, "reconnecting", attrs[0].Value.String())
	assert.Equal(t, int64(2), attrs[1].Value.Int64())
}

func TestContextHandler_RecordAttrsWin(t *testing.T) {
	var buf bytes.Buffer
	st := core.ConnectionStatus{State: core.Reconnecting, Failures: 2}
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), ConnectionContext(func() core.ConnectionStatus { return st }))

	slog.New(h).Warn("Connection lost, retrying", "failures", 3)

	out := buf.String()
	assert.Contains(t, out, "failures=3")
	assert.NotContains(t, out, "failures=2")
	assert.Contains(t, out, "conn=reconnecting")
}

func TestContextHandler_WithAttrsEmpty(t *testing.T) {
	h := NewContextHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), nil)
	assert.Same(t, h, h.WithAttrs(nil))
}
