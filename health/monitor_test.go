package health

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes [][2]Strategy
}

func (r *changeRecorder) record(from, to Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, [2]Strategy{from, to})
}

func (r *changeRecorder) wait(t *testing.T, n int) [][2]Strategy {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.changes) >= n {
			out := make([][2]Strategy, len(r.changes))
			copy(out, r.changes)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d strategy changes", n)
	return nil
}

func TestMonitorHoldsUntilMinSamples(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 10, MinSamples: 5, MinSuccess: 0.5}, StrategyServerPolling, nil)

	// Four straight failures are still below the sample floor.
	for i := 0; i < 4; i++ {
		m.RecordOutcome(false)
	}
	if m.Active() != StrategyServerPolling {
		t.Errorf("demoted before reaching min samples: %s", m.Active())
	}

	m.RecordOutcome(false)
	if m.Active() != StrategyBlockchain {
		t.Errorf("expected demotion at the fifth failure, got %s", m.Active())
	}
}

func TestMonitorSuccessRateFloor(t *testing.T) {
	rec := &changeRecorder{}
	m := NewMonitor(Config{WindowSize: 10, MinSamples: 5, MinSuccess: 0.5}, StrategyServerPolling, rec.record)

	// 3 of 6 succeed: exactly at the floor, no demotion.
	for _, ok := range []bool{true, false, true, false, true, false} {
		m.RecordOutcome(ok)
	}
	if m.Active() != StrategyServerPolling {
		t.Fatalf("rate at the floor should not demote, got %s", m.Active())
	}

	// One more failure tips it under.
	m.RecordOutcome(false)
	if m.Active() != StrategyBlockchain {
		t.Fatalf("expected demotion below the floor, got %s", m.Active())
	}

	changes := rec.wait(t, 1)
	if changes[0][0] != StrategyServerPolling || changes[0][1] != StrategyBlockchain {
		t.Errorf("unexpected change notification: %v", changes[0])
	}
}

func TestMonitorWindowResetOnDemotion(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 10, MinSamples: 5, MinSuccess: 0.5}, StrategyServerWebsocket, nil)
	for i := 0; i < 5; i++ {
		m.RecordOutcome(false)
	}
	if m.Active() != StrategyBlockchain {
		t.Fatalf("expected demotion, got %s", m.Active())
	}
	if _, samples := m.SuccessRate(); samples != 0 {
		t.Errorf("window should reset after demotion, has %d samples", samples)
	}
}

func TestStreamErrorDemotesWebsocketToPolling(t *testing.T) {
	rec := &changeRecorder{}
	m := NewMonitor(Config{}, StrategyServerWebsocket, rec.record)

	m.RecordStreamError(errors.New("reconnect attempts exhausted"))
	if m.Active() != StrategyServerPolling {
		t.Fatalf("websocket error should demote to polling, got %s", m.Active())
	}
	changes := rec.wait(t, 1)
	if changes[0][1] != StrategyServerPolling {
		t.Errorf("unexpected target strategy: %v", changes[0])
	}

	// A stream error while already polling is stale news.
	m.RecordStreamError(errors.New("late socket failure"))
	if m.Active() != StrategyServerPolling {
		t.Errorf("stale stream error must not move the strategy, got %s", m.Active())
	}
	if m.Demotions() != 1 {
		t.Errorf("expected 1 demotion, got %d", m.Demotions())
	}
}

func TestDemoteOnlyDowngrades(t *testing.T) {
	m := NewMonitor(Config{}, StrategyServerPolling, nil)

	// Upgrading through Demote is refused.
	m.Demote(StrategyServerWebsocket)
	if m.Active() != StrategyServerPolling {
		t.Errorf("Demote must never upgrade, got %s", m.Active())
	}

	m.Demote(StrategyServerPolling)
	if m.Demotions() != 0 {
		t.Error("demoting to the active strategy should be a no-op")
	}

	m.Demote(StrategyBlockchain)
	if m.Active() != StrategyBlockchain {
		t.Errorf("expected blockchain strategy, got %s", m.Active())
	}
}

func TestBlockchainNeverDemotesFurther(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 4, MinSamples: 2, MinSuccess: 0.9}, StrategyBlockchain, nil)
	for i := 0; i < 6; i++ {
		m.RecordOutcome(false)
	}
	if m.Active() != StrategyBlockchain || m.Demotions() != 0 {
		t.Errorf("blockchain is terminal, got %s with %d demotions", m.Active(), m.Demotions())
	}
}
