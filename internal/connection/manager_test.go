package connection

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarzone/companion/internal/clock"
	"github.com/radarzone/companion/pkg/core"
	"github.com/radarzone/companion/pkg/streaming"
)

type harness struct {
	m        *Manager
	tr       *fakeTransport
	clk      *clock.Manual
	data     *fakeCompleteness
	received []streaming.Inbound
	statuses []core.ConnectionStatus
}

func newHarness(t *testing.T, tweak func(*Timing)) *harness {
	t.Helper()
	h := &harness{
		tr:   &fakeTransport{},
		clk:  clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		data: &fakeCompleteness{zones: true, logs: true},
	}
	timing := DefaultTiming()
	if tweak != nil {
		tweak(&timing)
	}
	m, err := New(Options{
		URL:          "ws://radar.local:8765/ws",
		Transport:    h.tr,
		Clock:        h.clk,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timing:       timing,
		Completeness: h.data,
		OnMessage: func(msg streaming.Inbound, _ time.Time) {
			h.received = append(h.received, msg)
		},
	})
	require.NoError(t, err)
	m.OnStatus(func(st core.ConnectionStatus) { h.statuses = append(h.statuses, st) })
	h.m = m
	t.Cleanup(m.Close)
	return h
}

// connect starts the manager and opens the first connection.
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.m.Start())
	c := h.tr.last()
	require.NotNil(t, c)
	c.accept()
	require.Equal(t, core.Connected, h.m.Status().State)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{URL: "ws://x"})
	assert.Error(t, err)
	_, err = New(Options{Transport: &fakeTransport{}})
	assert.Error(t, err)
}

func TestStart_ConnectsAndResyncs(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Start())
	assert.Equal(t, core.Connecting, h.m.Status().State)
	assert.Equal(t, []string{"ws://radar.local:8765/ws"}, h.tr.urls)

	c := h.tr.last()
	c.accept()
	st := h.m.Status()
	assert.Equal(t, core.Connected, st.State)
	assert.Zero(t, st.Failures)
	assert.Empty(t, c.sentTypes(), "nothing is sent before the resync stagger")

	h.clk.Advance(500 * time.Millisecond)
	assert.Equal(t, []string{streaming.TypeRequestZones}, c.sentTypes())

	h.clk.Advance(time.Second)
	assert.Equal(t, []string{
		streaming.TypeRequestZones,
		streaming.TypeRequestLogs,
		streaming.TypeFallLogs,
	}, c.sentTypes())
}

func TestStart_AlreadyConnectingGuard(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Start())
	require.NoError(t, h.m.Start())
	assert.Equal(t, 1, h.tr.count())
}

func TestFiveAbnormalClosesExhaust(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Start())

	var delays []time.Duration
	for i := 1; i <= 4; i++ {
		h.tr.last().drop(CloseAbnormalClosure)
		st := h.m.Status()
		require.Equal(t, core.Reconnecting, st.State, "close %d", i)
		require.Equal(t, i, st.Failures)
		delays = append(delays, st.RetryDelay)

		h.clk.Advance(st.RetryDelay)
		require.Equal(t, i+1, h.tr.count(), "retry %d should dial", i)
		require.Equal(t, core.Connecting, h.m.Status().State)
	}
	assert.Equal(t, []time.Duration{
		5000 * time.Millisecond,
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
	}, delays)

	h.tr.last().drop(CloseAbnormalClosure)
	st := h.m.Status()
	assert.Equal(t, core.Exhausted, st.State)
	assert.Equal(t, 5, st.Failures)
	assert.Empty(t, h.m.activeTimers())

	h.clk.Advance(10 * time.Minute)
	assert.Equal(t, 5, h.tr.count(), "exhaustion is terminal")

	h.m.ForceReconnect()
	st = h.m.Status()
	assert.Equal(t, core.Reconnecting, st.State)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, time.Second, st.RetryDelay)

	h.clk.Advance(time.Second)
	require.Equal(t, 6, h.tr.count())
	h.tr.last().accept()
	st = h.m.Status()
	assert.Equal(t, core.Connected, st.State)
	assert.Zero(t, st.Failures)
}

func TestNormalCloseDisconnects(t *testing.T) {
	for _, code := range []int{CloseNormal, CloseGoingAway} {
		h := newHarness(t, nil)
		c := h.connect(t)
		c.drop(code)

		assert.Equal(t, core.Disconnected, h.m.Status().State)
		assert.Empty(t, h.m.activeTimers())
		h.clk.Advance(time.Hour)
		assert.Equal(t, 1, h.tr.count())
	}
}

func TestDialErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.openErr = errors.New("bad url")
	require.NoError(t, h.m.Start())

	st := h.m.Status()
	assert.Equal(t, core.Reconnecting, st.State)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 5*time.Second, st.RetryDelay)
}

func TestMinimumAttemptIntervalDefersAttempt(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	c.drop(CloseNormal)

	h.clk.Advance(2 * time.Second)
	require.NoError(t, h.m.Start())
	st := h.m.Status()
	assert.Equal(t, core.Reconnecting, st.State)
	assert.InDelta(t, float64(3*time.Second), float64(st.RetryDelay), float64(time.Millisecond))
	assert.Equal(t, 1, h.tr.count())

	h.clk.Advance(3*time.Second + time.Millisecond)
	assert.Equal(t, 2, h.tr.count())
	assert.Equal(t, core.Connecting, h.m.Status().State)
}

func TestForceReconnectBypassesGate(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)

	h.m.ForceReconnect()
	assert.True(t, c.wasClosed())
	assert.Equal(t, CloseNormal, c.closeCode)
	assert.Equal(t, []string{"retry"}, h.m.activeTimers())

	h.clk.Advance(time.Second)
	assert.Equal(t, 2, h.tr.count())
	assert.Equal(t, core.Connecting, h.m.Status().State)
}

func TestSupersededConnectionEventsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	old := h.connect(t)

	h.m.ForceReconnect()
	old.drop(CloseAbnormalClosure)
	old.deliver(`{"type":"pong"}`)

	st := h.m.Status()
	assert.Equal(t, core.Reconnecting, st.State)
	assert.Zero(t, st.Failures)
	assert.Empty(t, h.received)
}

func TestSendRefusedWhenNotOpen(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.m.Send(streaming.Ping{}))

	require.NoError(t, h.m.Start())
	assert.False(t, h.m.Send(streaming.Ping{}), "connecting is not open")

	c := h.tr.last()
	c.accept()
	assert.True(t, h.m.Send(streaming.DeleteZone{ZoneID: "z"}))
	assert.Equal(t, []string{streaming.TypeDeleteZone}, c.sentTypes())

	c.vanish()
	assert.False(t, h.m.Send(streaming.Ping{}))
}

func TestMessagesReachHandlerAndUpdateLiveness(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)

	h.clk.Advance(2 * time.Second)
	c.deliver(`{"type":"pong"}`)
	c.deliver(`{"type":"mystery","x":1}`)

	require.Len(t, h.received, 2)
	assert.Equal(t, streaming.TypePong, h.received[0].InboundType())
	assert.Equal(t, h.clk.Now(), h.m.Status().LastMessageAt)
	assert.NotContains(t, h.m.activeTimers(), "pending-response")
}

func TestMalformedFrameDropped(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	h.clk.Advance(2 * time.Second)
	before := h.m.Status().LastMessageAt

	c.deliver(`{not json`)
	c.deliver(`{"type":"pong"`)

	assert.Empty(t, h.received)
	assert.Equal(t, before, h.m.Status().LastMessageAt)
	assert.Contains(t, h.m.activeTimers(), "pending-response", "a bad frame does not count as a response")
	assert.Equal(t, core.Connected, h.m.Status().State)
}

func TestBadPayloadStillCountsAsTraffic(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	h.clk.Advance(2 * time.Second)
	require.Contains(t, h.m.activeTimers(), "pending-response")

	c.deliver(`{"type":"zone_deleted","success":"yes","zoneId":"z1"}`)

	assert.Empty(t, h.received, "the payload is not handed on")
	assert.Equal(t, h.clk.Now(), h.m.Status().LastMessageAt)
	assert.NotContains(t, h.m.activeTimers(), "pending-response")

	h.clk.Advance(15 * time.Second)
	assert.Equal(t, core.Connected, h.m.Status().State)
	assert.Equal(t, 1, h.tr.count())
}

func TestNonObjectFrameIsUnknown(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	h.clk.Advance(2 * time.Second)

	c.deliver(`[1,2,3]`)

	require.Len(t, h.received, 1)
	assert.Equal(t, streaming.TypeUnknown, h.received[0].InboundType())
	assert.Equal(t, h.clk.Now(), h.m.Status().LastMessageAt)
}

func TestPendingResponseEscalates(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)

	// The resync at 1.5s re-arms the 15s response timer.
	h.clk.Advance(16 * time.Second)
	assert.Equal(t, core.Connected, h.m.Status().State)

	h.clk.Advance(time.Second)
	assert.Equal(t, core.Reconnecting, h.m.Status().State)
	assert.True(t, c.wasClosed())
}

func TestPendingResponseClearedByAnyMessage(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)

	h.clk.Advance(2 * time.Second)
	c.deliver(`{"type":"zone_event","zone_id":"z","event":"enter"}`)
	h.clk.Advance(16 * time.Second)

	assert.Equal(t, core.Connected, h.m.Status().State)
}

func TestPendingResponseToleratesRecentTraffic(t *testing.T) {
	h := newHarness(t, func(tm *Timing) {
		tm.PendingTimeout = 5 * time.Second
		tm.ResyncZonesAfter = time.Hour
		tm.ResyncLogsAfter = time.Hour
	})
	c := h.connect(t)

	h.clk.Advance(2 * time.Second)
	c.deliver(`{"type":"pong"}`)
	h.clk.Advance(2 * time.Second)
	require.True(t, h.m.Send(streaming.RequestZones{}))

	// Fires 7s after the last inbound frame, inside the recent window.
	h.clk.Advance(5 * time.Second)
	assert.Equal(t, core.Connected, h.m.Status().State)
	assert.NotContains(t, h.m.activeTimers(), "pending-response")

	require.True(t, h.m.Send(streaming.RequestZones{}))
	h.clk.Advance(5 * time.Second)
	assert.Equal(t, core.Reconnecting, h.m.Status().State)
}

func TestStalenessForcesReconnect(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.PendingTimeout = time.Hour })
	c := h.connect(t)

	h.clk.Advance(239 * time.Second)
	assert.Equal(t, core.Connected, h.m.Status().State)

	h.clk.Advance(time.Second)
	assert.Equal(t, core.Reconnecting, h.m.Status().State)
	assert.True(t, c.wasClosed())
}

func TestStalenessSatisfiedByTraffic(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.PendingTimeout = time.Hour })
	c := h.connect(t)

	for i := 0; i < 10; i++ {
		h.clk.Advance(50 * time.Second)
		c.deliver(`{"type":"pong"}`)
	}
	assert.Equal(t, core.Connected, h.m.Status().State)
	assert.Equal(t, 1, h.tr.count())
}

func TestHeartbeatPings(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.PendingTimeout = time.Hour })
	c := h.connect(t)

	h.clk.Advance(30 * time.Second)
	h.clk.Advance(30 * time.Second)

	pings := 0
	for _, typ := range c.sentTypes() {
		if typ == streaming.TypePing {
			pings++
		}
	}
	assert.Equal(t, 2, pings)
}

func TestHeartbeatDetectsDeadTransport(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.PendingTimeout = time.Hour })
	c := h.connect(t)
	h.clk.Advance(2 * time.Second)
	c.vanish()

	h.clk.Advance(28 * time.Second)
	st := h.m.Status()
	assert.Equal(t, core.Reconnecting, st.State)
	assert.Equal(t, time.Second, st.RetryDelay)

	h.clk.Advance(time.Second)
	assert.Equal(t, 2, h.tr.count())
}

func TestDataCheckReRequestsMissingState(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.PendingTimeout = time.Hour })
	h.data.zones = false
	h.data.logs = false
	c := h.connect(t)

	h.clk.Advance(20 * time.Second)
	assert.Equal(t, []string{
		streaming.TypeRequestZones,
		streaming.TypeRequestLogs,
		streaming.TypeFallLogs,
		streaming.TypeRequestZones,
		streaming.TypeRequestLogs,
	}, c.sentTypes())

	h.data.zones = true
	h.data.logs = true
	h.clk.Advance(20 * time.Second)
	assert.Len(t, c.sentTypes(), 6, "only the heartbeat ping follows")
}

func TestTimersCancelledOnClose(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	assert.ElementsMatch(t, []string{
		"resync-zones", "resync-logs", "heartbeat", "data-check", "staleness", "failure-reset",
	}, h.m.activeTimers())

	h.m.Close()
	assert.Empty(t, h.m.activeTimers())
	assert.Zero(t, h.clk.Pending())
	assert.True(t, c.wasClosed())
	assert.Equal(t, core.Disconnected, h.m.Status().State)
	assert.ErrorIs(t, h.m.Start(), ErrClosed)
	assert.False(t, h.m.Send(streaming.Ping{}))
}

func TestSetURLReconnects(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)

	h.m.SetURL("ws://other:9000/ws")
	assert.True(t, c.wasClosed())
	h.clk.Advance(time.Second)
	assert.Equal(t, "ws://other:9000/ws", h.tr.urls[len(h.tr.urls)-1])
	assert.Equal(t, "ws://other:9000/ws", h.m.URL())
}

func TestStatusListener(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect(t)
	c.drop(CloseNormal)

	var states []core.ConnectionState
	for _, st := range h.statuses {
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
		}
	}
	assert.Equal(t, []core.ConnectionState{core.Connecting, core.Connected, core.Disconnected}, states)
}

func TestFailureResetRearmsWhileConnected(t *testing.T) {
	h := newHarness(t, func(tm *Timing) { tm.FailureReset = time.Second })
	require.NoError(t, h.m.Start())
	h.tr.last().drop(CloseAbnormalClosure)
	require.Equal(t, 1, h.m.Status().Failures)

	h.clk.Advance(h.m.Status().RetryDelay)
	h.tr.last().accept()
	require.Equal(t, core.Connected, h.m.Status().State)
	assert.Zero(t, h.m.Status().Failures)

	for range 3 {
		h.clk.Advance(time.Second)
		assert.Contains(t, h.m.activeTimers(), "failure-reset")
		assert.Equal(t, core.Connected, h.m.Status().State)
	}
}
