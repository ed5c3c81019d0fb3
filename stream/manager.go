package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"dlobflow/logger"
	"dlobflow/models"
)

// ErrReconnectExhausted is delivered to every listener's error
// callback when a connection burns through its reconnect budget.
var ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")

// ConnectionState is the lifecycle state of one upstream connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Conn is the minimal websocket surface the manager drives. Satisfied
// by *websocket.Conn.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection. The default uses gorilla.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config tunes the manager. Zero values take the documented defaults.
type Config struct {
	// MaxReconnectDelay caps the doubling reconnect delay.
	MaxReconnectDelay time.Duration // default 10s
	// MinReconnectDelay seeds the doubling reconnect delay.
	MinReconnectDelay time.Duration // default 500ms
	// MaxReconnectAttempts bounds reconnect cycles before listeners
	// are failed.
	MaxReconnectAttempts int // default 3
	// FirstMessageTimeout is the watchdog budget for the very first
	// message after a connect.
	FirstMessageTimeout time.Duration // default 2s
	// MessageTimeout is the steady-state watchdog budget.
	MessageTimeout time.Duration // default 20s
	// TeardownGrace delays closing a connection whose listener set
	// just emptied, absorbing rapid unsubscribe/resubscribe churn.
	TeardownGrace time.Duration // default 3s
	// DecayInterval is how often the reconnect counter relaxes back to
	// zero. Zero derives 3x MaxReconnectDelay.
	DecayInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 10 * time.Second
	}
	if c.MinReconnectDelay <= 0 {
		c.MinReconnectDelay = 500 * time.Millisecond
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 3
	}
	if c.FirstMessageTimeout <= 0 {
		c.FirstMessageTimeout = 2 * time.Second
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 20 * time.Second
	}
	if c.TeardownGrace <= 0 {
		c.TeardownGrace = 3 * time.Second
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = 3 * c.MaxReconnectDelay
	}
	return c
}

// Subscription is one logical listener multiplexed over a shared
// connection. OnMessage receives every envelope on the connection;
// the listener filters on Channel.
type Subscription struct {
	ID             string
	SubscribeMsg   interface{}
	UnsubscribeMsg interface{}
	OnMessage      func(models.StreamEnvelope)
	OnError        func(error)
}

// Manager owns one physical connection per upstream URL, shared by all
// listeners subscribed to that URL.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *logger.Log

	mu    sync.Mutex
	conns map[string]*connection
	done  bool
}

type connection struct {
	url       string
	state     ConnectionState
	ws        Conn
	listeners map[string]Subscription
	attempts  int
	boff      *backoff.Backoff
	watchdog  *time.Timer
	grace     *time.Timer
	decayStop chan struct{}
	// gen invalidates callbacks belonging to a previous socket
	gen uint64
}

func NewManager(cfg Config) *Manager {
	return NewManagerWithDialer(cfg, gorillaDialer{})
}

// NewManagerWithDialer injects the dialer; tests use it to avoid real
// sockets.
func NewManagerWithDialer(cfg Config, dialer Dialer) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		log:    logger.GetLogger(),
		conns:  make(map[string]*connection),
	}
}

// Subscribe attaches a listener to the URL's shared connection,
// creating and connecting it when this is the first listener. The
// returned function unsubscribes.
func (m *Manager) Subscribe(ctx context.Context, url string, sub Subscription) (func(), error) {
	if sub.OnMessage == nil {
		return nil, fmt.Errorf("subscription requires an OnMessage callback")
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil, fmt.Errorf("stream manager is shut down")
	}
	conn, exists := m.conns[url]
	if !exists {
		conn = &connection{
			url:       url,
			listeners: make(map[string]Subscription),
			boff: &backoff.Backoff{
				Min:    m.cfg.MinReconnectDelay,
				Max:    m.cfg.MaxReconnectDelay,
				Factor: 2,
			},
			decayStop: make(chan struct{}),
		}
		m.conns[url] = conn
		go m.decayLoop(conn)
	}
	if conn.grace != nil {
		conn.grace.Stop()
		conn.grace = nil
	}
	if _, dup := conn.listeners[sub.ID]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("listener %q already subscribed to %s", sub.ID, url)
	}
	conn.listeners[sub.ID] = sub

	needDial := conn.state == StateDisconnected
	if conn.state == StateConnected {
		m.writeLocked(conn, sub.SubscribeMsg)
	}
	m.mu.Unlock()

	if needDial {
		go m.connect(ctx, conn)
	}

	id := sub.ID
	return func() { m.unsubscribe(url, id) }, nil
}

// State reports the connection state for a URL.
func (m *Manager) State(url string) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[url]; ok {
		return conn.state
	}
	return StateDisconnected
}

// ListenerCount reports how many listeners share a URL's connection.
func (m *Manager) ListenerCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[url]; ok {
		return len(conn.listeners)
	}
	return 0
}

// Shutdown tears down every connection immediately.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.done = true
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		m.mu.Lock()
		m.destroyLocked(conn)
		m.mu.Unlock()
	}
}

func (m *Manager) unsubscribe(url, id string) {
	m.mu.Lock()
	conn, ok := m.conns[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	sub, ok := conn.listeners[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(conn.listeners, id)
	if conn.state == StateConnected {
		m.writeLocked(conn, sub.UnsubscribeMsg)
	}
	if len(conn.listeners) == 0 && conn.grace == nil {
		conn.grace = time.AfterFunc(m.cfg.TeardownGrace, func() {
			m.mu.Lock()
			if len(conn.listeners) == 0 {
				m.destroyLocked(conn)
			}
			m.mu.Unlock()
		})
	}
	m.mu.Unlock()
}

func (m *Manager) connect(ctx context.Context, conn *connection) {
	m.mu.Lock()
	if conn.state != StateDisconnected || len(conn.listeners) == 0 {
		m.mu.Unlock()
		return
	}
	conn.state = StateConnecting
	gen := conn.gen
	url := conn.url
	m.mu.Unlock()

	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{"url": url})
	ws, err := m.dialer.Dial(ctx, url)

	m.mu.Lock()
	if conn.gen != gen || conn.state != StateConnecting {
		m.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		conn.state = StateDisconnected
		m.mu.Unlock()
		log.WithError(err).Warn("websocket dial failed")
		m.failCycle(ctx, conn, gen)
		return
	}

	conn.ws = ws
	conn.state = StateConnected
	for _, sub := range conn.listeners {
		m.writeLocked(conn, sub.SubscribeMsg)
	}
	m.armWatchdogLocked(ctx, conn, gen, m.cfg.FirstMessageTimeout)
	m.mu.Unlock()

	log.WithFields(logger.Fields{"listeners": m.ListenerCount(url)}).Info("websocket connected")
	go m.readLoop(ctx, conn, ws, gen)
}

func (m *Manager) readLoop(ctx context.Context, conn *connection, ws Conn, gen uint64) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := conn.gen != gen
			m.mu.Unlock()
			if stale {
				return
			}
			m.log.WithComponent("stream_manager").WithError(err).WithFields(logger.Fields{"url": conn.url}).Warn("websocket read error")
			m.dropSocket(ctx, conn, gen)
			m.failCycle(ctx, conn, gen)
			return
		}

		logger.IncrementStreamRead(len(raw))

		var env models.StreamEnvelope
		if err := SafeUnmarshal(raw, &env); err != nil {
			m.log.WithComponent("stream_manager").WithError(err).Debug("failed to decode stream envelope")
			continue
		}

		m.mu.Lock()
		if conn.gen != gen {
			m.mu.Unlock()
			return
		}
		m.armWatchdogLocked(ctx, conn, gen, m.cfg.MessageTimeout)
		listeners := make([]Subscription, 0, len(conn.listeners))
		for _, sub := range conn.listeners {
			listeners = append(listeners, sub)
		}
		m.mu.Unlock()

		for _, sub := range listeners {
			sub.OnMessage(env)
		}
	}
}

// armWatchdogLocked (re)starts the no-message timer. Every inbound
// message lands here with the steady-state budget; a fresh connect
// uses the shorter first-message budget.
func (m *Manager) armWatchdogLocked(ctx context.Context, conn *connection, gen uint64, timeout time.Duration) {
	if conn.watchdog != nil {
		conn.watchdog.Stop()
	}
	conn.watchdog = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		stale := conn.gen != gen || conn.state != StateConnected
		m.mu.Unlock()
		if stale {
			return
		}
		m.log.WithComponent("stream_manager").WithFields(logger.Fields{
			"url":        conn.url,
			"timeout_ms": timeout.Milliseconds(),
		}).Warn("websocket message watchdog elapsed")
		m.dropSocket(ctx, conn, gen)
		m.failCycle(ctx, conn, gen)
	})
}

// dropSocket closes the physical socket and bumps the generation so
// the old read loop and watchdog become inert.
func (m *Manager) dropSocket(ctx context.Context, conn *connection, gen uint64) {
	m.mu.Lock()
	if conn.gen != gen {
		m.mu.Unlock()
		return
	}
	conn.gen++
	conn.state = StateDisconnected
	if conn.watchdog != nil {
		conn.watchdog.Stop()
		conn.watchdog = nil
	}
	ws := conn.ws
	conn.ws = nil
	m.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// failCycle burns one reconnect attempt: reconnect after the backoff
// delay while attempts remain, otherwise fail every listener once and
// destroy the connection.
func (m *Manager) failCycle(ctx context.Context, conn *connection, gen uint64) {
	m.mu.Lock()
	conn.attempts++
	attempts := conn.attempts
	if attempts > m.cfg.MaxReconnectAttempts {
		listeners := make([]Subscription, 0, len(conn.listeners))
		for _, sub := range conn.listeners {
			listeners = append(listeners, sub)
		}
		m.destroyLocked(conn)
		m.mu.Unlock()

		m.log.WithComponent("stream_manager").WithFields(logger.Fields{
			"url":      conn.url,
			"attempts": attempts - 1,
		}).Error("websocket reconnect attempts exhausted")
		for _, sub := range listeners {
			if sub.OnError != nil {
				sub.OnError(ErrReconnectExhausted)
			}
		}
		return
	}
	delay := conn.boff.Duration()
	m.mu.Unlock()

	m.log.WithComponent("stream_manager").WithFields(logger.Fields{
		"url":      conn.url,
		"attempt":  attempts,
		"delay_ms": delay.Milliseconds(),
	}).Warn("scheduling websocket reconnect")
	time.AfterFunc(delay, func() { m.connect(ctx, conn) })
}

// decayLoop slowly forgives reconnect attempts. A flapping connection
// keeps its elevated counter between decay ticks; a genuinely
// recovered one returns to a clean slate.
func (m *Manager) decayLoop(conn *connection) {
	ticker := time.NewTicker(m.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.decayStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			conn.attempts = 0
			conn.boff.Reset()
			m.mu.Unlock()
		}
	}
}

func (m *Manager) writeLocked(conn *connection, msg interface{}) {
	if msg == nil || conn.ws == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.WithComponent("stream_manager").WithError(err).Warn("failed to marshal control message")
		return
	}
	if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		m.log.WithComponent("stream_manager").WithError(err).Warn("failed to write control message")
	}
}

// destroyLocked removes the connection entirely. Caller holds m.mu.
func (m *Manager) destroyLocked(conn *connection) {
	conn.gen++
	conn.state = StateDisconnected
	if conn.watchdog != nil {
		conn.watchdog.Stop()
		conn.watchdog = nil
	}
	if conn.grace != nil {
		conn.grace.Stop()
		conn.grace = nil
	}
	select {
	case <-conn.decayStop:
	default:
		close(conn.decayStop)
	}
	if conn.ws != nil {
		conn.ws.Close()
		conn.ws = nil
	}
	conn.listeners = make(map[string]Subscription)
	delete(m.conns, conn.url)
}
