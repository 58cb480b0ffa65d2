// Package upstream holds the HTTP plumbing shared by the external API adapters:
// a classified error type and a client that consults a circuit breaker and a
// rate limiter before every call.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bundle-cache-go/circuitbreaker"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client performs GET requests against one upstream service
type Client struct {
	service string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	headers http.Header
}

// Options configures a Client. Zero values disable the corresponding feature.
type Options struct {
	Timeout      time.Duration // 0 = no timeout
	RatePerSec   float64       // 0 = unlimited
	Burst        int
	Breaker      *circuitbreaker.CircuitBreaker
	UserAgent    string
	ExtraHeaders map[string]string
	HTTPClient   *http.Client // overrides Timeout when set
}

// NewClient creates a client for service
func NewClient(service string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	headers := http.Header{}
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.ExtraHeaders {
		headers.Set(k, v)
	}

	return &Client{
		service: service,
		http:    httpClient,
		limiter: limiter,
		breaker: opts.Breaker,
		headers: headers,
	}
}

// Breaker returns the client's circuit breaker, or nil
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// countsAsFailure reports whether a response means the service itself is unhealthy
func countsAsFailure(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// Get fetches url and returns the body of a 2xx response.
// A 404 is returned as an http_status error that matches ErrNotFound.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		stats.Get().RecordUpstream(c.service, "rejected")
		log.Warnf("%s %s: circuit open, skipping %s", logcolors.LogRequest, c.service, url)
		return nil, NetworkError(c.service, circuitbreaker.ErrCircuitOpen)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, NetworkError(c.service, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NetworkError(c.service, fmt.Errorf("failed to create request: %w", err))
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	start := time.Now()
	log.Debugf("%s %s GET %s", logcolors.LogRequest, c.service, url)

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordTransportFailure(ctx)
		stats.Get().RecordUpstream(c.service, "error")
		return nil, NetworkError(c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		if countsAsFailure(resp.StatusCode) {
			c.recordFailure()
		} else {
			c.recordSuccess()
		}

		statusErr := StatusError(c.service, resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			statusErr.Err = ErrNotFound
			stats.Get().RecordUpstream(c.service, "not_found")
		} else {
			stats.Get().RecordUpstream(c.service, "error")
		}
		log.Debugf("%s %s GET %s -> %d (%v)", logcolors.LogHTTP, c.service, url, resp.StatusCode, time.Since(start))
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordTransportFailure(ctx)
		stats.Get().RecordUpstream(c.service, "error")
		return nil, NetworkError(c.service, fmt.Errorf("failed to read response: %w", err))
	}

	c.recordSuccess()
	stats.Get().RecordUpstream(c.service, "ok")
	log.Debugf("%s %s GET %s -> %d, %d bytes (%v)", logcolors.LogRequest, c.service, url, resp.StatusCode, len(body), time.Since(start))
	return body, nil
}

// GetJSON fetches url and decodes the body into v
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ParseError(c.service, err)
	}
	return nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// recordTransportFailure skips the breaker when the caller cancelled or its
// deadline passed; that says nothing about the upstream's health.
func (c *Client) recordTransportFailure(ctx context.Context) {
	if ctx.Err() != nil {
		log.Debugf("%s %s: request abandoned by caller: %v", logcolors.LogRequest, c.service, ctx.Err())
		return
	}
	c.recordFailure()
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}
