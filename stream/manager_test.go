package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dlobflow/models"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.msgs:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{
		MinReconnectDelay:    time.Millisecond,
		MaxReconnectDelay:    5 * time.Millisecond,
		MaxReconnectAttempts: 2,
		FirstMessageTimeout:  time.Second,
		MessageTimeout:       time.Second,
		TeardownGrace:        30 * time.Millisecond,
		DecayInterval:        time.Hour,
	}
}

func TestSubscribeDeliversEnvelopes(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManagerWithDialer(testConfig(), dialer)
	defer m.Shutdown()

	received := make(chan models.StreamEnvelope, 4)
	unsub, err := m.Subscribe(context.Background(), "ws://test", Subscription{
		ID:           "book",
		SubscribeMsg: models.SubscribeMessage{Type: "subscribe", Channel: "orderbook", Market: "SOL-PERP", MarketType: "perp"},
		OnMessage:    func(env models.StreamEnvelope) { received <- env },
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	waitFor(t, time.Second, "connection", func() bool { return m.State("ws://test") == StateConnected })

	conn := dialer.lastConn()
	if conn.writeCount() != 1 {
		t.Errorf("expected one subscribe frame on connect, got %d", conn.writeCount())
	}

	conn.msgs <- []byte(`{"channel":"orderbook_perp_0","data":"{\"bids\":[]}"}`)

	select {
	case env := <-received:
		if env.Channel != "orderbook_perp_0" {
			t.Errorf("unexpected channel: %s", env.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("envelope never delivered")
	}
}

func TestSharedConnectionMultiplexesListeners(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManagerWithDialer(testConfig(), dialer)
	defer m.Shutdown()

	ctx := context.Background()
	var aCount, bCount int
	var mu sync.Mutex
	unsubA, err := m.Subscribe(ctx, "ws://test", Subscription{
		ID:        "a",
		OnMessage: func(models.StreamEnvelope) { mu.Lock(); aCount++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Subscribe a failed: %v", err)
	}
	defer unsubA()
	waitFor(t, time.Second, "connection", func() bool { return m.State("ws://test") == StateConnected })

	unsubB, err := m.Subscribe(ctx, "ws://test", Subscription{
		ID:        "b",
		OnMessage: func(models.StreamEnvelope) { mu.Lock(); bCount++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Subscribe b failed: %v", err)
	}
	defer unsubB()

	if dialer.dialCount() != 1 {
		t.Errorf("second listener should share the socket, got %d dials", dialer.dialCount())
	}
	if m.ListenerCount("ws://test") != 2 {
		t.Errorf("expected 2 listeners, got %d", m.ListenerCount("ws://test"))
	}

	dialer.lastConn().msgs <- []byte(`{"channel":"orderbook_perp_1"}`)
	waitFor(t, time.Second, "fanout", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return aCount == 1 && bCount == 1
	})
}

func TestReconnectBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	m := NewManagerWithDialer(testConfig(), dialer)
	defer m.Shutdown()

	failures := make(chan error, 4)
	_, err := m.Subscribe(context.Background(), "ws://test", Subscription{
		ID:        "doomed",
		OnMessage: func(models.StreamEnvelope) {},
		OnError:   func(err error) { failures <- err },
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case err := <-failures:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("expected ErrReconnectExhausted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never notified of exhaustion")
	}

	// Initial dial plus exactly MaxReconnectAttempts reconnect cycles.
	if got := dialer.dialCount(); got != 3 {
		t.Errorf("expected 3 dial attempts, got %d", got)
	}

	select {
	case err := <-failures:
		t.Errorf("listener notified more than once: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if m.ListenerCount("ws://test") != 0 {
		t.Error("exhausted connection should drop its listeners")
	}
}

func TestReadErrorTriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManagerWithDialer(testConfig(), dialer)
	defer m.Shutdown()

	unsub, err := m.Subscribe(context.Background(), "ws://test", Subscription{
		ID:        "book",
		OnMessage: func(models.StreamEnvelope) {},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()
	waitFor(t, time.Second, "connection", func() bool { return m.State("ws://test") == StateConnected })

	// Sever the socket; the manager should dial a replacement.
	dialer.lastConn().Close()
	waitFor(t, time.Second, "reconnect", func() bool { return dialer.dialCount() == 2 })
	waitFor(t, time.Second, "reconnected", func() bool { return m.State("ws://test") == StateConnected })
}

func TestUnsubscribeGraceKeepsConnectionBriefly(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManagerWithDialer(testConfig(), dialer)
	defer m.Shutdown()

	ctx := context.Background()
	unsub, err := m.Subscribe(ctx, "ws://test", Subscription{
		ID:        "a",
		OnMessage: func(models.StreamEnvelope) {},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitFor(t, time.Second, "connection", func() bool { return m.State("ws://test") == StateConnected })

	unsub()

	// Resubscribing inside the grace window must reuse the socket.
	unsub2, err := m.Subscribe(ctx, "ws://test", Subscription{
		ID:        "b",
		OnMessage: func(models.StreamEnvelope) {},
	})
	if err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("grace window should have kept the socket, got %d dials", dialer.dialCount())
	}

	// Draining the listeners for the full grace tears the socket down.
	unsub2()
	waitFor(t, time.Second, "teardown", func() bool { return m.State("ws://test") == StateDisconnected })
}

func TestShutdownRejectsNewSubscriptions(t *testing.T) {
	m := NewManagerWithDialer(testConfig(), &fakeDialer{})
	m.Shutdown()

	_, err := m.Subscribe(context.Background(), "ws://test", Subscription{
		OnMessage: func(models.StreamEnvelope) {},
	})
	if err == nil {
		t.Error("Subscribe after Shutdown should fail")
	}
}

func TestSubscribeRequiresCallback(t *testing.T) {
	m := NewManagerWithDialer(testConfig(), &fakeDialer{})
	defer m.Shutdown()
	if _, err := m.Subscribe(context.Background(), "ws://test", Subscription{ID: "x"}); err == nil {
		t.Error("Subscribe without OnMessage should fail")
	}
}
