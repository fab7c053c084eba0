package toncenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/batch"
)

var ErrAPI = errors.New("toncenter api error")

const (
	DefaultCacheSize   = 4096
	DefaultStatusDelay = 30 * time.Millisecond
	// accountStates accepts up to this many addresses per call
	maxStatusBatch = 100
)

// Client talks to toncenter v2 and v3 and implements everything the senders read from the chain.
type Client struct {
	http    *http.Client
	baseURL string // e.g. "https://toncenter.com"
	apiKey  string // used as X-API-Key; if empty, no auth header is set

	rl      *slidingLimiter
	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	cacheSize   int
	statusDelay time.Duration

	// active accounts do not go back to uninit, so only they are cached
	active        *lru.Cache
	jettonWallets *lru.Cache
	payloadAPIs   *lru.Cache
	statuses      *batch.Fetcher[string, tlb.AccountStatus]

	// third party custom payload apis get no api key
	payloads *resty.Client
}

// Option configures Client.
type Option func(*Client)

// WithAPIKey sets X-API-Key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient allows custom http.Client (retries, tracing, proxy, etc).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit limits requests per second, set 0 for no limit, default 0
func WithRateLimit(maxPerSec float64) Option {
	return func(c *Client) {
		if maxPerSec > 0 {
			period := 1 * time.Second
			if maxPerSec < 1 {
				period = time.Duration(math.Round(float64(time.Second) / maxPerSec))
				if period < time.Millisecond {
					period = time.Millisecond
				}
				maxPerSec = 1
			}

			c.rl = newSlidingLimiter(int(maxPerSec), period)
		}
	}
}

// WithTimeout sets http.Client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.http == nil {
			c.http = &http.Client{Timeout: d}
			return
		}
		c.http.Timeout = d
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clk = clk
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCacheSize sets the size of the account status and jetton wallet caches.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		c.cacheSize = n
	}
}

// WithStatusBatchDelay sets how long status lookups wait for others to share one request.
func WithStatusBatchDelay(d time.Duration) Option {
	return func(c *Client) {
		c.statusDelay = d
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		clk:         clock.New(),
		logger:      zap.NewNop(),
		cacheSize:   DefaultCacheSize,
		statusDelay: DefaultStatusDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.active, err = lru.New(c.cacheSize); err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}
	if c.jettonWallets, err = lru.New(c.cacheSize); err != nil {
		return nil, fmt.Errorf("failed to create jetton wallet cache: %w", err)
	}
	if c.payloadAPIs, err = lru.New(c.cacheSize); err != nil {
		return nil, fmt.Errorf("failed to create jetton master cache: %w", err)
	}
	c.payloads = resty.NewWithClient(c.http).SetHeader("Accept", "application/json")

	c.statuses = batch.NewFetcher(c.fetchStatuses,
		batch.WithClock(c.clk),
		batch.WithDelay(c.statusDelay),
		batch.WithMaxBatch(maxStatusBatch),
		batch.WithLogger(c.logger.Named("status_batch")),
	)
	return c, nil
}

func addrKey(addr *address.Address) string {
	return addr.StringRaw()
}

type slidingLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	times  []time.Time // request start moments, ascending
}

func newSlidingLimiter(max int, window time.Duration) *slidingLimiter {
	return &slidingLimiter{
		window: window,
		max:    max,
		times:  make([]time.Time, 0, max),
	}
}

func (l *slidingLimiter) wait(ctx context.Context, clk clock.Clock) error {
	for {
		now := clk.Now()
		cutoff := now.Add(-l.window)

		l.mu.Lock()
		i := 0
		for i < len(l.times) && l.times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			l.times = l.times[i:]
		}

		if len(l.times) < l.max {
			l.times = append(l.times, now)
			l.mu.Unlock()
			return nil
		}

		waitUntil := l.times[0].Add(l.window)
		l.mu.Unlock()

		d := clk.Until(waitUntil)
		if d <= 0 {
			continue
		}

		timer := clk.Timer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type Response[T any] struct {
	Ok     bool   `json:"ok"`
	Result T      `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   *int   `json:"code,omitempty"`
}

func doGET[T any](ctx context.Context, c *Client, path string, q url.Values, v3 bool) (*T, error) {
	u := path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return do[T](c, req, v3)
}

func doPOST[T any](ctx context.Context, c *Client, path string, body any, v3 bool) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	return do[T](c, req, v3)
}

func do[T any](c *Client, req *http.Request, isV3 bool) (res *T, err error) {
	method := req.URL.Path
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.metrics.ObserveRPC(method, outcome)
	}()

	if c.rl != nil {
		if err = c.rl.wait(req.Context(), c.clk); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var tr struct {
			Error string `json:"error"`
		}
		if err = json.Unmarshal(body, &tr); err != nil || tr.Error == "" {
			return nil, fmt.Errorf("%w: status code %d", ErrAPI, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status code %d: %s", ErrAPI, resp.StatusCode, tr.Error)
	}

	if isV3 {
		var tr T
		if err = json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("failed to parse toncenter response: %w", err)
		}
		return &tr, nil
	}

	var tr Response[T]
	if err = json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse toncenter response: %w", err)
	}

	// HTTP 504 is possible on lite server timeout, the envelope is still JSON
	if !tr.Ok {
		return nil, fmt.Errorf("%w: %s", ErrAPI, tr.Error)
	}
	return &tr.Result, nil
}
