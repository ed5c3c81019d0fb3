// Package fetcher implements the batched remote L2 fetch used by the
// polling transport.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dlobflow/logger"
	"dlobflow/models"
)

// ErrStaleResponse marks a response that arrived after a newer
// request's response was already accepted. Callers swallow it; it is
// not a failure of the transport.
var ErrStaleResponse = errors.New("stale batched response superseded by a newer one")

// Options configures an L2Client.
type Options struct {
	BaseURL           string
	IncludeVamm       bool
	IncludePhoenix    bool
	IncludeSerum      bool
	IncludeOracle     bool
	RequestsPerSecond int
	BurstSize         int
	Timeout           time.Duration
}

// L2Client fetches batched L2 snapshots from the dlob server. One GET
// carries every (market, depth) pair due on a tick; the response array
// mirrors the request order and is additionally cross-checked against
// the echoed market identity when the server supplies it.
type L2Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log

	mu          sync.Mutex
	nextSeq     uint64
	acceptedSeq uint64
}

func NewL2Client(opts Options) *L2Client {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.BurstSize
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &L2Client{
		baseURL:    opts.BaseURL,
		opts:       opts,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        logger.GetLogger(),
	}
}

// FetchL2 issues one batched request. Results preserve request order.
func (c *L2Client) FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error) {
	if len(reqs) == 0 {
		return []models.MarketL2{}, nil
	}
	log := c.log.WithComponent("l2_client").WithFields(logger.Fields{"markets": len(reqs), "operation": "fetch_l2"})

	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := c.buildURL(reqs)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build batched L2 request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("batched L2 request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batched L2 request returned status %d", resp.StatusCode)
	}

	var batched models.BatchedL2Response
	if err := json.NewDecoder(resp.Body).Decode(&batched); err != nil {
		return nil, fmt.Errorf("decode batched L2 response: %w", err)
	}
	logger.IncrementPollRead(len(batched.L2s))

	// A newer request's response already landed: this one is discarded
	// with the sentinel, not reported as a transport failure.
	c.mu.Lock()
	if c.acceptedSeq > seq {
		c.mu.Unlock()
		return nil, ErrStaleResponse
	}
	c.acceptedSeq = seq
	c.mu.Unlock()

	results, err := matchResponses(reqs, batched.L2s)
	if err != nil {
		return nil, err
	}

	logger.LogPerformanceEntry(log, "l2_client", "fetch_l2", time.Since(start), logger.Fields{
		"markets": len(reqs),
		"results": len(results),
	})
	return results, nil
}

func (c *L2Client) buildURL(reqs []models.MarketRequest) string {
	params := url.Values{}
	for _, req := range reqs {
		params.Add("marketType", string(req.Market.MarketType))
		params.Add("marketIndex", strconv.Itoa(int(req.Market.MarketIndex)))
		params.Add("depth", strconv.Itoa(req.Depth))
		params.Add("includeVamm", strconv.FormatBool(c.opts.IncludeVamm))
		params.Add("includePhoenix", strconv.FormatBool(c.opts.IncludePhoenix))
		params.Add("includeSerum", strconv.FormatBool(c.opts.IncludeSerum))
		params.Add("includeOracle", strconv.FormatBool(c.opts.IncludeOracle))
		if req.Grouping > 0 {
			params.Add("grouping", strconv.Itoa(req.Grouping))
		}
	}
	return c.baseURL + "/batchL2?" + params.Encode()
}

// matchResponses pairs payloads back to requests. Position is the
// primary key; when a payload echoes its market identity the echo must
// agree with the request at that position.
func matchResponses(reqs []models.MarketRequest, payloads []models.WireL2Payload) ([]models.MarketL2, error) {
	if len(payloads) != len(reqs) {
		return nil, fmt.Errorf("batched L2 response has %d entries for %d requested markets", len(payloads), len(reqs))
	}
	results := make([]models.MarketL2, 0, len(reqs))
	for i, payload := range payloads {
		want := reqs[i].Market
		if payload.MarketIndex != nil {
			got := models.MarketId{MarketIndex: *payload.MarketIndex, MarketType: models.MarketType(payload.MarketType)}
			if got != want {
				return nil, fmt.Errorf("batched L2 response entry %d is for %s, expected %s", i, got.Key(), want.Key())
			}
		}
		snap, oracle, err := convertPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", want.Key(), err)
		}
		results = append(results, models.MarketL2{Market: want, Snapshot: snap, Oracle: oracle})
	}
	return results, nil
}

func convertPayload(payload models.WireL2Payload) (models.L2Snapshot, *models.OraclePriceData, error) {
	snap := models.L2Snapshot{
		Bids: make([]models.L2Level, 0, len(payload.Bids)),
		Asks: make([]models.L2Level, 0, len(payload.Asks)),
		Slot: payload.Slot,
	}
	for _, wire := range payload.Bids {
		lvl, err := wire.ToLevel()
		if err != nil {
			return models.L2Snapshot{}, nil, err
		}
		snap.Bids = append(snap.Bids, lvl)
	}
	for _, wire := range payload.Asks {
		lvl, err := wire.ToLevel()
		if err != nil {
			return models.L2Snapshot{}, nil, err
		}
		snap.Asks = append(snap.Asks, lvl)
	}
	if payload.OracleData == nil {
		return snap, nil, nil
	}
	oracle, err := payload.OracleData.ToOracleData()
	if err != nil {
		return models.L2Snapshot{}, nil, err
	}
	return snap, &oracle, nil
}
