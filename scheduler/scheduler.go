// Package scheduler drives the polling transport: tracked markets are
// grouped into cadence tiers over a shared base tick, and every tick
// flattens the union of due markets into a single batched fetch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dlobflow/fetcher"
	"dlobflow/logger"
	"dlobflow/models"
)

var (
	// ErrIntervalExists is returned by AddInterval for a duplicate id.
	ErrIntervalExists = errors.New("interval id already exists")
	// ErrUnknownInterval is returned when operating on a missing tier.
	ErrUnknownInterval = errors.New("unknown interval id")
)

// Fetcher executes one batched L2 fetch. fetcher.L2Client implements
// it for the remote server; the blockchain strategy supplies a local
// implementation built on the liquidity adapters.
type Fetcher interface {
	FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error)
}

// Handler receives each tick's results.
type Handler func(results []models.MarketL2)

// ErrorHandler receives escalating conditions: the consecutive-empty
// or consecutive-error threshold being crossed. The scheduler keeps
// running; strategy demotion is the owner's decision.
type ErrorHandler func(err error)

// Config tunes the scheduler. Zero values take the documented
// defaults.
type Config struct {
	BaseTick             time.Duration // default 1s
	MaxConsecutiveEmpty  int           // default 3
	MaxConsecutiveErrors int           // default 5
}

func (c Config) withDefaults() Config {
	if c.BaseTick <= 0 {
		c.BaseTick = time.Second
	}
	if c.MaxConsecutiveEmpty <= 0 {
		c.MaxConsecutiveEmpty = 3
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	return c
}

// Stats is a point-in-time view of scheduler counters.
type Stats struct {
	TickCount         uint64
	RequestsIssued    int64
	ConsecutiveEmpty  int
	ConsecutiveErrors int
	MarketCount       int
}

type interval struct {
	id         string
	multiplier int
	depth      int
	markets    map[string]models.MarketId
	newlyAdded map[string]models.MarketId
}

// Scheduler owns the tier map and the tick loop. Public methods are
// safe for concurrent use; the tick loop runs on one goroutine.
type Scheduler struct {
	cfg     Config
	fetch   Fetcher
	handler Handler
	onError ErrorHandler
	log     *logger.Log

	mu        sync.Mutex
	intervals map[string]*interval
	order     []string
	tickCount uint64
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	requestsIssued    int64
	consecutiveEmpty  int
	consecutiveErrors int
}

func New(cfg Config, fetch Fetcher, handler Handler, onError ErrorHandler) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		fetch:     fetch,
		handler:   handler,
		onError:   onError,
		log:       logger.GetLogger(),
		intervals: make(map[string]*interval),
	}
}

// AddInterval registers a cadence tier. The multiplier counts base
// ticks between fires; depth is the per-market level count requested.
func (s *Scheduler) AddInterval(id string, multiplier, depth int) error {
	if multiplier <= 0 || depth <= 0 {
		return fmt.Errorf("interval %q: multiplier and depth must be positive", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intervals[id]; exists {
		return fmt.Errorf("interval %q: %w", id, ErrIntervalExists)
	}
	s.intervals[id] = &interval{
		id:         id,
		multiplier: multiplier,
		depth:      depth,
		markets:    make(map[string]models.MarketId),
		newlyAdded: make(map[string]models.MarketId),
	}
	s.order = append(s.order, id)
	return nil
}

// RemoveInterval deletes a tier and its membership.
func (s *Scheduler) RemoveInterval(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intervals[id]; !exists {
		return fmt.Errorf("interval %q: %w", id, ErrUnknownInterval)
	}
	delete(s.intervals, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddMarketToInterval places a market in a tier. Re-adding to the same
// tier is a no-op; adding while a member of another tier migrates it.
// A newly placed market is polled on the very next tick regardless of
// the tier's cadence.
func (s *Scheduler) AddMarketToInterval(id string, market models.MarketId) error {
	return s.AddMarketsToInterval(id, []models.MarketId{market})
}

// AddMarketsToInterval is the batched form of AddMarketToInterval.
func (s *Scheduler) AddMarketsToInterval(id string, markets []models.MarketId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier, exists := s.intervals[id]
	if !exists {
		return fmt.Errorf("interval %q: %w", id, ErrUnknownInterval)
	}
	for _, market := range markets {
		key := market.Key()
		if _, already := tier.markets[key]; already {
			continue
		}
		for _, other := range s.intervals {
			if other.id == id {
				continue
			}
			delete(other.markets, key)
			delete(other.newlyAdded, key)
		}
		tier.markets[key] = market
		tier.newlyAdded[key] = market
	}
	return nil
}

// RemoveMarketFromInterval drops a market from a tier.
func (s *Scheduler) RemoveMarketFromInterval(id string, market models.MarketId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier, exists := s.intervals[id]
	if !exists {
		return fmt.Errorf("interval %q: %w", id, ErrUnknownInterval)
	}
	delete(tier.markets, market.Key())
	delete(tier.newlyAdded, market.Key())
	return nil
}

// MarketsForInterval lists a tier's current membership.
func (s *Scheduler) MarketsForInterval(id string) ([]models.MarketId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier, exists := s.intervals[id]
	if !exists {
		return nil, fmt.Errorf("interval %q: %w", id, ErrUnknownInterval)
	}
	out := make([]models.MarketId, 0, len(tier.markets))
	for _, market := range tier.markets {
		out = append(out, market)
	}
	return out, nil
}

// MarketCount counts tracked markets across all tiers.
func (s *Scheduler) MarketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, tier := range s.intervals {
		count += len(tier.markets)
	}
	return count
}

// Stats snapshots the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, tier := range s.intervals {
		count += len(tier.markets)
	}
	return Stats{
		TickCount:         s.tickCount,
		RequestsIssued:    s.requestsIssued,
		ConsecutiveEmpty:  s.consecutiveEmpty,
		ConsecutiveErrors: s.consecutiveErrors,
		MarketCount:       count,
	}
}

// Start fires an immediate first tick synchronously, then continues on
// the base-tick timer until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	// a fresh run starts its cadence over: the synchronous first tick
	// below must poll every tier, and an old transport's escalation
	// streak does not carry into the new one
	s.tickCount = 0
	s.consecutiveEmpty = 0
	s.consecutiveErrors = 0
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"base_tick_ms": s.cfg.BaseTick.Milliseconds()}).Info("starting polling scheduler")

	s.tick(ctx)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop cancels the tick timer and waits for the loop to exit. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.WithComponent("scheduler").Info("polling scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.BaseTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick advances the counter, coalesces due markets across firing tiers
// into one request batch and dispatches it.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.tickCount++
	counter := s.tickCount

	byMarket := make(map[string]models.MarketRequest)
	var keys []string
	for _, id := range s.order {
		tier := s.intervals[id]
		due := counter == 1 || counter%uint64(tier.multiplier) == 0 || len(tier.newlyAdded) > 0
		if !due {
			continue
		}
		for key, market := range tier.markets {
			req, seen := byMarket[key]
			if !seen {
				byMarket[key] = models.MarketRequest{Market: market, Depth: tier.depth}
				keys = append(keys, key)
				continue
			}
			// deepest requested depth wins when tiers collide
			if tier.depth > req.Depth {
				req.Depth = tier.depth
				byMarket[key] = req
			}
		}
		tier.newlyAdded = make(map[string]models.MarketId)
	}
	reqs := make([]models.MarketRequest, 0, len(keys))
	for _, key := range keys {
		reqs = append(reqs, byMarket[key])
	}
	s.mu.Unlock()

	if len(reqs) == 0 {
		return
	}

	results, err := s.fetch.FetchL2(ctx, reqs)
	if errors.Is(err, fetcher.ErrStaleResponse) {
		s.log.WithComponent("scheduler").Debug("discarded superseded batched response")
		return
	}

	s.mu.Lock()
	s.requestsIssued++
	var escalate error
	switch {
	case err != nil:
		s.consecutiveErrors++
		if s.consecutiveErrors == s.cfg.MaxConsecutiveErrors {
			escalate = fmt.Errorf("%d consecutive fetch errors, last: %w", s.consecutiveErrors, err)
		}
	case emptyResults(results):
		s.consecutiveEmpty++
		if s.consecutiveEmpty == s.cfg.MaxConsecutiveEmpty {
			escalate = fmt.Errorf("%d consecutive empty batched responses", s.consecutiveEmpty)
		}
	default:
		s.consecutiveEmpty = 0
		s.consecutiveErrors = 0
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).Warn("batched fetch failed")
	} else if s.handler != nil {
		s.handler(results)
	}
	if escalate != nil && s.onError != nil {
		s.onError(escalate)
	}
}

func emptyResults(results []models.MarketL2) bool {
	for _, result := range results {
		if len(result.Snapshot.Bids) > 0 || len(result.Snapshot.Asks) > 0 {
			return false
		}
	}
	return true
}
