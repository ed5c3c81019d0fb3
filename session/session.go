// Package session owns one orderbook-consuming session: it selects a
// synchronization strategy, wires the polling or streaming transport
// into the orderbook store, and downgrades the strategy when the
// health monitor says so. All state hangs off the Session value;
// nothing is process-global, so several independent sessions can
// coexist in one process.
package session

import (
	"context"
	"fmt"
	"sync"

	"dlobflow/dlob"
	"dlobflow/fetcher"
	"dlobflow/health"
	"dlobflow/liquidity"
	"dlobflow/logger"
	"dlobflow/models"
	"dlobflow/protocol"
	"dlobflow/scheduler"
	"dlobflow/stream"
)

// TierConfig registers one polling cadence tier.
type TierConfig struct {
	ID         string
	Multiplier int
	Depth      int
}

// Config assembles the per-session knobs.
type Config struct {
	ServerHTTPURL   string
	ServerWSURL     string
	InitialStrategy health.Strategy
	Tiers           []TierConfig
	Scheduler       scheduler.Config
	Stream          stream.Config
	Health          health.Config
	Fetch           fetcher.Options
}

// ChainDeps are the on-chain collaborators the blockchain strategy
// builds books from. Any nil member simply contributes nothing.
type ChainDeps struct {
	Markets protocol.MarketAccountProvider
	Oracles protocol.OraclePriceProvider
	Slots   protocol.SlotProvider
	Resting protocol.RestingLimitFn
	Vamm    liquidity.VammConfig
}

type trackedMarket struct {
	market models.MarketId
	tier   string
	unsub  func()
}

// Session is the owning object for one synchronized orderbook view.
type Session struct {
	cfg     Config
	store   *dlob.Store
	monitor *health.Monitor
	sched   *scheduler.Scheduler
	streams *stream.Manager
	log     *logger.Log

	orderSource *liquidity.OrderSource
	phoenix     *liquidity.PhoenixSource
	serum       *liquidity.SerumSource

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	tracked map[string]*trackedMarket
}

func New(cfg Config, deps ChainDeps) *Session {
	s := &Session{
		cfg:     cfg,
		store:   dlob.NewStore(),
		streams: stream.NewManager(cfg.Stream),
		log:     logger.GetLogger(),
		tracked: make(map[string]*trackedMarket),
	}

	var sources []liquidity.Source
	if deps.Markets != nil && deps.Oracles != nil {
		sources = append(sources, liquidity.NewVammSource(deps.Markets, deps.Oracles, deps.Vamm))
	}
	if deps.Oracles != nil && deps.Slots != nil && deps.Resting != nil {
		s.orderSource = liquidity.NewOrderSource(deps.Oracles, deps.Slots, deps.Resting)
		sources = append(sources, s.orderSource)
	}
	s.phoenix = liquidity.NewPhoenixSource()
	s.serum = liquidity.NewSerumSource()
	sources = append(sources, s.phoenix, s.serum)

	chain := &chainFetcher{sources: sources, oracles: deps.Oracles, slots: deps.Slots}
	remote := fetcher.NewL2Client(cfg.Fetch)

	initial := cfg.InitialStrategy
	if initial == "" {
		initial = health.StrategyServerWebsocket
	}
	s.monitor = health.NewMonitor(cfg.Health, initial, s.onStrategyChange)

	switching := &switchingFetcher{monitor: s.monitor, chain: chain, remote: remote}
	recording := &recordingFetcher{inner: switching, monitor: s.monitor}
	s.sched = scheduler.New(cfg.Scheduler, recording, s.applyResults, s.onSchedulerError)
	return s
}

// Store exposes the session's orderbook state container.
func (s *Session) Store() *dlob.Store { return s.store }

// Strategy reports the currently active synchronization strategy.
func (s *Session) Strategy() health.Strategy { return s.monitor.Active() }

// OrderSource exposes the on-chain order adapter so the account
// subscription layer can push decoded order sets in. Nil when the
// session was built without chain collaborators.
func (s *Session) OrderSource() *liquidity.OrderSource { return s.orderSource }

// PhoenixSource and SerumSource accept external venue book updates.
func (s *Session) PhoenixSource() *liquidity.PhoenixSource { return s.phoenix }
func (s *Session) SerumSource() *liquidity.SerumSource     { return s.serum }

// Start registers the configured tiers and activates the initial
// strategy. The polling strategies complete their first tick before
// Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for _, tier := range s.cfg.Tiers {
		if err := s.sched.AddInterval(tier.ID, tier.Multiplier, tier.Depth); err != nil {
			return fmt.Errorf("register tier: %w", err)
		}
	}

	log := s.log.WithComponent("session")
	log.WithFields(logger.Fields{"strategy": string(s.monitor.Active())}).Info("starting orderbook session")
	return s.activateStrategy(s.monitor.Active())
}

// Stop tears down whichever transport is active.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.sched.Stop()
	s.streams.Shutdown()
	s.log.WithComponent("session").Info("orderbook session stopped")
}

// TrackMarket begins synchronizing a market in the given tier. Under
// the websocket strategy a stream subscription is opened as well; the
// scheduler membership is kept in either case so a demotion can fall
// back seamlessly.
func (s *Session) TrackMarket(id models.MarketId, tierID string) error {
	if err := s.sched.AddMarketToInterval(tierID, id); err != nil {
		return err
	}
	s.mu.Lock()
	tracked := &trackedMarket{market: id, tier: tierID}
	s.tracked[id.Key()] = tracked
	running := s.running
	ctx := s.ctx
	s.mu.Unlock()

	if running && s.monitor.Active() == health.StrategyServerWebsocket {
		return s.openStream(ctx, tracked)
	}
	return nil
}

// UntrackMarket stops synchronizing a market.
func (s *Session) UntrackMarket(id models.MarketId) error {
	s.mu.Lock()
	tracked, ok := s.tracked[id.Key()]
	if ok {
		delete(s.tracked, id.Key())
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("market %s is not tracked", id.Key())
	}
	if tracked.unsub != nil {
		tracked.unsub()
	}
	return s.sched.RemoveMarketFromInterval(tracked.tier, id)
}

// activateStrategy brings up the transport for a strategy, assuming
// the previous one is already quiesced.
func (s *Session) activateStrategy(strategy health.Strategy) error {
	s.mu.Lock()
	ctx := s.ctx
	tracked := make([]*trackedMarket, 0, len(s.tracked))
	for _, t := range s.tracked {
		tracked = append(tracked, t)
	}
	s.mu.Unlock()

	switch strategy {
	case health.StrategyServerWebsocket:
		for _, t := range tracked {
			if err := s.openStream(ctx, t); err != nil {
				return err
			}
		}
		return nil
	default:
		return s.sched.Start(ctx)
	}
}

// onStrategyChange runs outside the monitor's lock whenever it
// demotes. The old transport is quiesced before the new one starts.
func (s *Session) onStrategyChange(from, to health.Strategy) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log.WithComponent("session").WithFields(logger.Fields{
		"from": string(from),
		"to":   string(to),
	}).Warn("switching synchronization strategy")

	if from == health.StrategyServerWebsocket {
		s.closeStreams()
	} else {
		s.sched.Stop()
	}

	if err := s.activateStrategy(to); err != nil {
		s.log.WithComponent("session").WithError(err).Error("failed to activate demoted strategy")
	}
}

func (s *Session) openStream(ctx context.Context, tracked *trackedMarket) error {
	id := tracked.market
	bookChannel := models.OrderbookChannel(id)
	initChannel := models.LastUpdateChannel(id)
	sub := stream.Subscription{
		SubscribeMsg: models.SubscribeMessage{
			Type:       "subscribe",
			Channel:    "orderbook",
			Market:     id.Key(),
			MarketType: string(id.MarketType),
		},
		UnsubscribeMsg: models.SubscribeMessage{
			Type:       "unsubscribe",
			Channel:    "orderbook",
			Market:     id.Key(),
			MarketType: string(id.MarketType),
		},
		OnMessage: func(env models.StreamEnvelope) {
			if env.Channel != bookChannel && env.Channel != initChannel {
				return
			}
			s.applyStreamPayload(id, env)
		},
		OnError: func(err error) {
			s.monitor.RecordStreamError(err)
		},
	}
	unsub, err := s.streams.Subscribe(ctx, s.cfg.ServerWSURL, sub)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", id.Key(), err)
	}
	s.mu.Lock()
	tracked.unsub = unsub
	s.mu.Unlock()
	return nil
}

func (s *Session) closeStreams() {
	s.mu.Lock()
	unsubs := make([]func(), 0, len(s.tracked))
	for _, t := range s.tracked {
		if t.unsub != nil {
			unsubs = append(unsubs, t.unsub)
			t.unsub = nil
		}
	}
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// wsBookPayload is the streaming book message body. Numeric fields
// arrive as decimal strings; the envelope decode path guarantees even
// misencoded oversized literals survive as strings.
type wsBookPayload struct {
	Bids       []models.WireL2Level   `json:"bids"`
	Asks       []models.WireL2Level   `json:"asks"`
	Slot       uint64                 `json:"slot"`
	OracleData *models.WireOracleData `json:"oracleData"`
}

func (s *Session) applyStreamPayload(id models.MarketId, env models.StreamEnvelope) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"market": id.Key(), "channel": env.Channel})
	if env.Error != nil {
		log.WithFields(logger.Fields{"error": env.Error}).Warn("stream payload carried an error")
		return
	}
	var payload wsBookPayload
	if err := stream.SafeUnmarshal([]byte(env.Data), &payload); err != nil {
		log.WithError(err).Warn("failed to decode stream book payload")
		return
	}
	snap := models.L2Snapshot{
		Bids: make([]models.L2Level, 0, len(payload.Bids)),
		Asks: make([]models.L2Level, 0, len(payload.Asks)),
		Slot: payload.Slot,
	}
	for _, wire := range payload.Bids {
		lvl, err := wire.ToLevel()
		if err != nil {
			log.WithError(err).Warn("bad bid level in stream payload")
			return
		}
		snap.Bids = append(snap.Bids, lvl)
	}
	for _, wire := range payload.Asks {
		lvl, err := wire.ToLevel()
		if err != nil {
			log.WithError(err).Warn("bad ask level in stream payload")
			return
		}
		snap.Asks = append(snap.Asks, lvl)
	}
	s.store.ApplySnapshot(id, snap)
	if payload.OracleData != nil {
		oracle, err := payload.OracleData.ToOracleData()
		if err != nil {
			log.WithError(err).Warn("bad oracle data in stream payload")
			return
		}
		// same slot gate as the polling path: out-of-order stream
		// messages cannot regress the stored oracle
		s.store.ApplyOracle(id, oracle)
	}
}

func (s *Session) applyResults(results []models.MarketL2) {
	for _, result := range results {
		s.store.ApplySnapshot(result.Market, result.Snapshot)
		if result.Oracle != nil {
			s.store.ApplyOracle(result.Market, *result.Oracle)
		}
	}
}

// onSchedulerError receives escalations (consecutive empty/error
// thresholds). Polling escalations demote to the blockchain strategy.
func (s *Session) onSchedulerError(err error) {
	s.log.WithComponent("session").WithError(err).Warn("polling transport escalation")
	if s.monitor.Active() == health.StrategyServerPolling {
		s.monitor.Demote(health.StrategyBlockchain)
	}
}
