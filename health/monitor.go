// Package health tracks the active synchronization strategy's recent
// outcomes and decides when to demote to a more conservative
// transport.
package health

import (
	"sync"

	"dlobflow/logger"
)

// Strategy is one of the three mutually exclusive synchronization
// transports.
type Strategy string

const (
	// StrategyBlockchain builds the book locally from on-chain account
	// subscriptions. Most conservative, always available.
	StrategyBlockchain Strategy = "blockchain"
	// StrategyServerPolling polls the dlob server's batched L2 route.
	StrategyServerPolling Strategy = "dlob_server_polling"
	// StrategyServerWebsocket consumes the dlob server's push feed.
	StrategyServerWebsocket Strategy = "dlob_server_websocket"
)

// Config tunes the monitor. Zero values take the documented defaults.
type Config struct {
	WindowSize int     // rolling outcome window, default 10
	MinSamples int     // outcomes required before demotion, default 5
	MinSuccess float64 // success-rate floor, default 0.5
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.MinSuccess <= 0 {
		c.MinSuccess = 0.5
	}
	return c
}

// Monitor keeps a bounded window of success/failure outcomes for the
// active strategy and demotes when the success rate sinks below the
// floor. A transport-level websocket error demotes straight to
// polling, independent of the window.
type Monitor struct {
	cfg      Config
	log      *logger.Log
	onChange func(from, to Strategy)

	mu        sync.Mutex
	active    Strategy
	window    []bool
	demotions int64
}

func NewMonitor(cfg Config, initial Strategy, onChange func(from, to Strategy)) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		log:      logger.GetLogger(),
		onChange: onChange,
		active:   initial,
	}
}

// Active returns the current strategy.
func (m *Monitor) Active() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RecordOutcome feeds one fetch attempt's result into the rolling
// window. Crossing below the success floor (once the window holds
// enough samples) demotes to the blockchain strategy.
func (m *Monitor) RecordOutcome(success bool) {
	m.mu.Lock()
	m.window = append(m.window, success)
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[len(m.window)-m.cfg.WindowSize:]
	}
	if len(m.window) < m.cfg.MinSamples {
		m.mu.Unlock()
		return
	}
	successes := 0
	for _, ok := range m.window {
		if ok {
			successes++
		}
	}
	rate := float64(successes) / float64(len(m.window))
	if rate >= m.cfg.MinSuccess || m.active == StrategyBlockchain {
		m.mu.Unlock()
		return
	}
	from := m.active
	m.demoteLocked(StrategyBlockchain)
	m.mu.Unlock()

	m.log.WithComponent("health_monitor").WithFields(logger.Fields{
		"from":         string(from),
		"success_rate": rate,
		"window":       len(m.window),
	}).Warn("success rate below floor, demoting to blockchain strategy")
}

// RecordStreamError handles a transport-level websocket error: a
// single hard socket failure is a stronger signal than several slow
// polls, so the websocket strategy drops straight to polling.
func (m *Monitor) RecordStreamError(err error) {
	m.mu.Lock()
	if m.active != StrategyServerWebsocket {
		m.mu.Unlock()
		return
	}
	m.demoteLocked(StrategyServerPolling)
	m.mu.Unlock()

	m.log.WithComponent("health_monitor").WithError(err).Warn("websocket transport error, demoting to polling strategy")
}

// Demote moves to a strictly more conservative strategy at the
// owner's request (e.g. a scheduler escalation event). No-op when the
// target is not a downgrade from the active strategy.
func (m *Monitor) Demote(to Strategy) {
	m.mu.Lock()
	if !moreConservative(to, m.active) {
		m.mu.Unlock()
		return
	}
	from := m.active
	m.demoteLocked(to)
	m.mu.Unlock()

	m.log.WithComponent("health_monitor").WithFields(logger.Fields{
		"from": string(from),
		"to":   string(to),
	}).Warn("strategy demoted by owner")
}

// conservatism orders the strategies: blockchain is the safest, the
// push feed the most fragile.
func moreConservative(a, b Strategy) bool {
	rank := func(s Strategy) int {
		switch s {
		case StrategyBlockchain:
			return 0
		case StrategyServerPolling:
			return 1
		default:
			return 2
		}
	}
	return rank(a) < rank(b)
}

// SuccessRate reports the current window's success rate and sample
// count.
func (m *Monitor) SuccessRate() (rate float64, samples int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return 0, 0
	}
	successes := 0
	for _, ok := range m.window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(m.window)), len(m.window)
}

// Demotions counts strategy downgrades over the monitor's lifetime.
func (m *Monitor) Demotions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demotions
}

// demoteLocked switches strategy and resets the window so the new
// transport is judged on its own outcomes. Caller holds m.mu.
func (m *Monitor) demoteLocked(to Strategy) {
	from := m.active
	m.active = to
	m.window = m.window[:0]
	m.demotions++
	go m.log.LogMetric("health_monitor", "StrategyDemotion", 1, "counter", logger.Fields{
		"from": string(from),
		"to":   string(to),
	})
	if m.onChange != nil {
		// release ordering: callback runs outside the lock
		go m.onChange(from, to)
	}
}
