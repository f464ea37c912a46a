package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/exitwatch/pkg/retry"
	"github.com/canopy-network/exitwatch/pkg/utils"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts, 429 and 5xx.
	ErrTransient = errors.New("transient beacon error")
	// ErrNotFound is returned for 404 responses, e.g. a block request for a missed slot.
	ErrNotFound = errors.New("not found")
)

// HTTPClient is a wrapper around an http.Client that implements a circuit-breaker and token-bucket.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 15
	}
	if o.Burst <= 0 {
		o.Burst = 30
	}
	if o.Timeout <= 0 {
		// full validator set downloads take a while on mainnet
		o.Timeout = 60 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting until one is available or ctx is done.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)

		timer := time.NewTimer(c.refillEvery / 2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isOpen returns true if the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// get issues a GET for path against the configured endpoints in order and hands the body of the
// first successful response to handle. Endpoints failing with transient errors are skipped.
//
// Errors are classified: ErrNotFound and other 4xx are returned wrapped with retry.Permanent,
// everything else wraps ErrTransient.
func (c *HTTPClient) get(ctx context.Context, path string, handle func(io.Reader) error) error {
	if len(c.endpoints) == 0 {
		return retry.Permanent(fmt.Errorf("no endpoints configured"))
	}

	var lastErr error
	for _, ep := range c.endpoints {
		// Skip endpoints whose breaker is OPEN.
		if c.isOpen(ep) {
			lastErr = fmt.Errorf("%w: circuit open for %s", ErrTransient, ep)
			continue
		}

		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, ep+path, nil)
		if reqErr != nil {
			return retry.Permanent(reqErr)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %w", ErrTransient, err)
			c.noteFailure(ep)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			_ = utils.DrainAndClose(resp.Body)
			return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, path))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: server %d", ErrTransient, resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		case resp.StatusCode >= 300:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = utils.DrainAndClose(resp.Body)
			return retry.Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, body))
		}

		err = handle(resp.Body)
		_ = utils.DrainAndClose(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retry.IsPermanent(err) {
				return err
			}
			lastErr = fmt.Errorf("%w: decode %s: %w", ErrTransient, path, err)
			continue
		}
		c.noteSuccess(ep)
		return nil
	}

	return lastErr
}

// getJSON decodes the response envelope's data field into out.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	return c.get(ctx, path, func(r io.Reader) error {
		env := envelope{Data: out}
		return json.NewDecoder(r).Decode(&env)
	})
}

// envelope is the standard beacon API response wrapper.
type envelope struct {
	Data any `json:"data"`
}
