// Package connection owns the lifecycle of the link to the radar server:
// connecting, backoff, liveness supervision and the send primitive.
//
// Every transport callback and every timer callback runs to completion under
// the manager's lock, so the state machine never observes interleaved
// handlers.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/radarzone/companion/internal/clock"
	"github.com/radarzone/companion/pkg/core"
	"github.com/radarzone/companion/pkg/streaming"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("connection manager closed")

// Completeness reports whether the authoritative collections the periodic
// data check looks after have arrived.
type Completeness interface {
	ZonesReceived() bool
	ZoneLogsReceived() bool
}

// MessageHandler receives every successfully decoded inbound message. It runs
// under the manager lock and must not call back into the Manager.
type MessageHandler func(msg streaming.Inbound, receivedAt time.Time)

// StatusListener is told about every status change. It runs under the
// manager lock and must not call back into the Manager.
type StatusListener func(core.ConnectionStatus)

// Options configures a Manager.
type Options struct {
	URL          string
	Transport    Transport
	Clock        clock.Clock
	Logger       *slog.Logger
	Timing       Timing
	OnMessage    MessageHandler
	Completeness Completeness
}

type timerRole int

const (
	timerRetry timerRole = iota
	timerHeartbeat
	timerDataCheck
	timerStaleness
	timerPending
	timerFailureReset
	timerResyncZones
	timerResyncLogs
)

var timerNames = map[timerRole]string{
	timerRetry:        "retry",
	timerHeartbeat:    "heartbeat",
	timerDataCheck:    "data-check",
	timerStaleness:    "staleness",
	timerPending:      "pending-response",
	timerFailureReset: "failure-reset",
	timerResyncZones:  "resync-zones",
	timerResyncLogs:   "resync-logs",
}

type armedTimer struct {
	t   clock.Timer
	seq uint64
}

// Manager drives the connection state machine.
type Manager struct {
	mu sync.Mutex

	url          string
	transport    Transport
	clock        clock.Clock
	logger       *slog.Logger
	timing       Timing
	onMessage    MessageHandler
	completeness Completeness

	conn Conn
	// gen identifies the current connection; callbacks from older ones are
	// dropped.
	gen uint64

	state         core.ConnectionState
	retryDelay    time.Duration
	failures      int
	lastAttemptAt time.Time
	lastMessageAt time.Time
	gate          *rate.Limiter
	closed        bool

	timers   map[timerRole]armedTimer
	timerSeq uint64

	listeners []StatusListener
	published core.ConnectionStatus
	status    atomic.Pointer[core.ConnectionStatus]

	metrics *instruments
}

// New creates a manager in the disconnected state. Call Start to connect.
func New(opts Options) (*Manager, error) {
	if opts.Transport == nil {
		return nil, errors.New("connection: transport is required")
	}
	if opts.URL == "" {
		return nil, errors.New("connection: url is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("creating connection metrics: %w", err)
	}

	m := &Manager{
		url:          opts.URL,
		transport:    opts.Transport,
		clock:        opts.Clock,
		logger:       opts.Logger,
		timing:       opts.Timing.withDefaults(),
		onMessage:    opts.OnMessage,
		completeness: opts.Completeness,
		timers:       make(map[timerRole]armedTimer),
		metrics:      ins,
	}
	m.gate = m.newGate()
	st := m.statusLocked()
	m.published = st
	m.status.Store(&st)

	if err := m.registerStateGauge(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) registerStateGauge() error {
	mtr := meter()
	gauge, err := mtr.Int64ObservableGauge(
		"connection.state",
		metric.WithDescription("Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 exhausted)"),
	)
	if err != nil {
		return fmt.Errorf("creating state gauge: %w", err)
	}
	_, err = mtr.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(m.Status().State))
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("registering state callback: %w", err)
	}
	return nil
}

// newGate allows one attempt immediately and then one per MinAttemptInterval.
func (m *Manager) newGate() *rate.Limiter {
	return rate.NewLimiter(rate.Every(m.timing.MinAttemptInterval), 1)
}

// OnStatus registers a listener for status changes.
func (m *Manager) OnStatus(l StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns the latest published status. It never blocks on the
// manager lock, so it is safe to call from log handlers and listeners.
func (m *Manager) Status() core.ConnectionStatus {
	return *m.status.Load()
}

// URL returns the endpoint the manager dials.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Start begins the first connection attempt.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.attemptLocked()
	return nil
}

// Close tears the connection down and cancels every timer. The manager
// cannot be restarted.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancelAllLocked()
	m.dropConnLocked(CloseNormal, "client shutdown")
	m.state = core.Disconnected
	m.retryDelay = 0
	m.publishLocked()
	m.logger.Info("Connection manager closed")
}

// ForceReconnect abandons the current connection and schedules a fresh
// attempt shortly after, bypassing the minimum attempt interval.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceReconnectLocked("requested")
}

// SetURL switches the endpoint and reconnects to it.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if url == m.url {
		return
	}
	m.logger.Info("Connection endpoint changed", "from", m.url, "to", url)
	m.url = url
	m.forceReconnectLocked("endpoint changed")
}

// Send encodes msg and writes it if the transport is open. It never queues:
// a false return means the message is gone.
func (m *Manager) Send(msg streaming.Outbound) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(msg)
}

func (m *Manager) sendLocked(msg streaming.Outbound) bool {
	if m.closed || m.conn == nil || !m.conn.IsOpen() {
		m.logger.Warn("Send refused, transport not open", "type", msg.MessageType(), "state", m.state.String())
		m.metrics.refused.Add(context.Background(), 1, typeAttr(msg.MessageType()))
		return false
	}
	data, err := streaming.Encode(msg)
	if err != nil {
		m.logger.Error("Failed to encode outbound message", "type", msg.MessageType(), "error", err)
		return false
	}
	if err := m.conn.Send(data); err != nil {
		m.logger.Warn("Transport write failed", "type", msg.MessageType(), "error", err)
		m.metrics.refused.Add(context.Background(), 1, typeAttr(msg.MessageType()))
		return false
	}
	m.metrics.sent.Add(context.Background(), 1, typeAttr(msg.MessageType()))
	m.armLocked(timerPending, m.timing.PendingTimeout, m.pendingExpiredLocked)
	return true
}

func typeAttr(t string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", t))
}

// attemptLocked starts a connection attempt unless one is already running or
// the minimum interval since the last attempt has not elapsed, in which case
// the attempt is deferred until it has.
func (m *Manager) attemptLocked() {
	if m.closed || m.state == core.Connecting || m.state == core.Connected {
		return
	}
	now := m.clock.Now()
	r := m.gate.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		m.logger.Debug("Connection attempt deferred", "wait", wait)
		m.state = core.Reconnecting
		m.retryDelay = wait
		m.armLocked(timerRetry, wait, m.attemptLocked)
		m.publishLocked()
		return
	}

	m.stopLocked(timerRetry)
	m.state = core.Connecting
	m.retryDelay = 0
	m.lastAttemptAt = now
	m.gen++
	gen := m.gen
	m.metrics.attempts.Add(context.Background(), 1)
	m.logger.Info("Connecting", "url", m.url, "failures", m.failures)
	m.publishLocked()

	conn, err := m.transport.Open(m.url, m.eventsFor(gen))
	if err != nil {
		m.logger.Warn("Connection attempt failed", "url", m.url, "error", err)
		m.handleCloseLocked(CloseAbnormalClosure, err.Error())
		return
	}
	m.conn = conn
}

// eventsFor binds transport callbacks to one connection generation.
func (m *Manager) eventsFor(gen uint64) Events {
	guard := func(fn func()) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || gen != m.gen {
			return
		}
		fn()
	}
	return Events{
		OnOpen: func() { guard(m.handleOpenLocked) },
		OnMessage: func(data []byte) {
			guard(func() { m.handleMessageLocked(data) })
		},
		OnError: func(err error) {
			guard(func() { m.logger.Warn("Transport error", "error", err) })
		},
		OnClose: func(code int, reason string) {
			guard(func() { m.handleCloseLocked(code, reason) })
		},
	}
}

func (m *Manager) handleOpenLocked() {
	now := m.clock.Now()
	m.state = core.Connected
	m.retryDelay = 0
	m.failures = 0
	m.lastMessageAt = now
	m.logger.Info("Connected", "url", m.url)

	m.armLocked(timerResyncZones, m.timing.ResyncZonesAfter, func() {
		m.sendLocked(streaming.RequestZones{})
	})
	m.armLocked(timerResyncLogs, m.timing.ResyncLogsAfter, func() {
		m.sendLocked(streaming.RequestLogs{})
		to := m.clock.Now()
		m.sendLocked(streaming.NewFallLogs(to.Add(-m.timing.FallLogWindow), to))
	})
	m.armLocked(timerHeartbeat, m.timing.Heartbeat, m.heartbeatLocked)
	m.armLocked(timerDataCheck, m.timing.DataCheck, m.dataCheckLocked)
	m.armLocked(timerStaleness, m.timing.StalenessCheck, m.stalenessLocked)
	m.armLocked(timerFailureReset, m.timing.FailureReset, m.failureResetLocked)
	m.publishLocked()
}

// handleMessageLocked parses a frame, records liveness and only then decodes
// the payload and hands the message on. A payload that does not fit its
// type still counts as traffic.
func (m *Manager) handleMessageLocked(data []byte) {
	frame, err := streaming.Parse(data)
	if err != nil {
		m.metrics.decodeErrors.Add(context.Background(), 1)
		m.logger.Warn("Dropping malformed frame", "error", err, "size", len(data))
		return
	}
	now := m.clock.Now()
	m.lastMessageAt = now
	m.stopLocked(timerPending)
	m.metrics.received.Add(context.Background(), 1, typeAttr(frame.Type))
	m.publishLocked()

	msg, err := frame.Decode()
	if err != nil {
		m.metrics.rejected.Add(context.Background(), 1, typeAttr(frame.Type))
		m.logger.Warn("Dropping frame with unexpected payload", "type", frame.Type, "error", err)
		return
	}
	if m.onMessage != nil {
		m.onMessage(msg, now)
	}
}

func (m *Manager) handleCloseLocked(code int, reason string) {
	m.conn = nil
	m.cancelAllLocked()

	if isNormalClose(code) {
		m.logger.Info("Connection closed", "code", code, "reason", reason)
		m.state = core.Disconnected
		m.retryDelay = 0
		m.publishLocked()
		return
	}

	m.metrics.failures.Add(context.Background(), 1)
	delay := m.timing.Backoff(m.failures)
	m.failures++
	if m.failures >= m.timing.MaxFailures {
		m.logger.Error("Reconnect attempts exhausted", "code", code, "reason", reason, "failures", m.failures)
		m.state = core.Exhausted
		m.retryDelay = 0
		m.publishLocked()
		return
	}

	m.logger.Warn("Connection lost, retrying", "code", code, "reason", reason, "failures", m.failures, "delay", delay)
	m.state = core.Reconnecting
	m.retryDelay = delay
	m.armLocked(timerRetry, delay, m.attemptLocked)
	m.publishLocked()
}

func (m *Manager) forceReconnectLocked(cause string) {
	if m.closed {
		return
	}
	m.logger.Info("Forcing reconnect", "cause", cause, "failures", m.failures)
	m.metrics.forced.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cause", cause)))

	m.cancelAllLocked()
	m.dropConnLocked(CloseNormal, "reconnecting")
	if m.failures > m.timing.ForcedFailureClamp {
		m.failures = m.timing.ForcedFailureClamp
	}
	m.gate = m.newGate()
	m.lastAttemptAt = time.Time{}
	m.state = core.Reconnecting
	m.retryDelay = m.timing.ForcedDelay
	m.armLocked(timerRetry, m.timing.ForcedDelay, m.attemptLocked)
	m.publishLocked()
}

// dropConnLocked closes the current connection on our own initiative. The
// generation bump makes its late callbacks inert.
func (m *Manager) dropConnLocked(code int, reason string) {
	if m.conn == nil {
		return
	}
	c := m.conn
	m.conn = nil
	m.gen++
	if err := c.Close(code, reason); err != nil {
		m.logger.Debug("Error closing transport", "error", err)
	}
}

func (m *Manager) heartbeatLocked() {
	if m.conn == nil || !m.conn.IsOpen() {
		m.forceReconnectLocked("heartbeat found transport closed")
		return
	}
	m.sendLocked(streaming.Ping{})
	m.armLocked(timerHeartbeat, m.timing.Heartbeat, m.heartbeatLocked)
}

func (m *Manager) dataCheckLocked() {
	if m.completeness != nil {
		if !m.completeness.ZonesReceived() {
			m.logger.Info("Zones still missing, re-requesting")
			m.sendLocked(streaming.RequestZones{})
		}
		if !m.completeness.ZoneLogsReceived() {
			m.logger.Info("Zone logs still missing, re-requesting")
			m.sendLocked(streaming.RequestLogs{})
		}
	}
	m.armLocked(timerDataCheck, m.timing.DataCheck, m.dataCheckLocked)
}

func (m *Manager) stalenessLocked() {
	if silent := m.clock.Now().Sub(m.lastMessageAt); silent > m.timing.StalenessThreshold {
		m.logger.Warn("No messages received, connection presumed stale", "silent", silent)
		m.forceReconnectLocked("stale")
		return
	}
	m.armLocked(timerStaleness, m.timing.StalenessCheck, m.stalenessLocked)
}

func (m *Manager) pendingExpiredLocked() {
	if silent := m.clock.Now().Sub(m.lastMessageAt); silent > m.timing.RecentWindow {
		m.logger.Warn("No response to outstanding request", "silent", silent)
		m.forceReconnectLocked("response timeout")
	}
}

func (m *Manager) failureResetLocked() {
	if m.state == core.Connected && m.failures != 0 {
		m.logger.Debug("Resetting failure counter", "failures", m.failures)
		m.failures = 0
		m.publishLocked()
	}
	m.armLocked(timerFailureReset, m.timing.FailureReset, m.failureResetLocked)
}

// armLocked replaces the timer for role. The callback runs under the lock
// and is skipped if the role was re-armed or cancelled in the meantime.
func (m *Manager) armLocked(role timerRole, d time.Duration, fn func()) {
	m.stopLocked(role)
	m.timerSeq++
	seq := m.timerSeq
	t := m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		cur, ok := m.timers[role]
		if !ok || cur.seq != seq || m.closed {
			return
		}
		delete(m.timers, role)
		fn()
	})
	m.timers[role] = armedTimer{t: t, seq: seq}
}

func (m *Manager) stopLocked(role timerRole) {
	if cur, ok := m.timers[role]; ok {
		cur.t.Stop()
		delete(m.timers, role)
	}
}

func (m *Manager) cancelAllLocked() {
	for role := range m.timers {
		m.stopLocked(role)
	}
}

// activeTimers lists armed timer roles; used by tests.
func (m *Manager) activeTimers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.timers))
	for role := range m.timers {
		names = append(names, timerNames[role])
	}
	return names
}

func (m *Manager) statusLocked() core.ConnectionStatus {
	return core.ConnectionStatus{
		State:         m.state,
		RetryDelay:    m.retryDelay,
		Failures:      m.failures,
		LastAttemptAt: m.lastAttemptAt,
		LastMessageAt: m.lastMessageAt,
	}
}

func (m *Manager) publishLocked() {
	st := m.statusLocked()
	if st == m.published {
		return
	}
	m.published = st
	m.status.Store(&st)
	for _, l := range m.listeners {
		l(st)
	}
}
