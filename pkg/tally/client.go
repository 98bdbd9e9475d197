package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://api.tally.xyz/query"
	defaultTimeout  = 30 * time.Second

	defaultFloorDelay   = 600 * time.Millisecond
	defaultCeilingDelay = 2 * time.Second

	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 5 * time.Second
)

// Stats is an advisory snapshot of client activity. Nothing outside the
// client bases decisions on it.
//
// Requests, Successes, Failures, and RateLimited all count individual HTTP
// attempts, so Requests = Successes + Failures + RateLimited once every call
// has settled. SuccessRate is the fraction of logical Send calls that
// eventually succeeded; Efficiency is the fraction of attempts that did, so
// retries lower it.
type Stats struct {
	Sends        int64         `json:"sends"`
	Requests     int64         `json:"requests"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	RateLimited  int64         `json:"rate_limited"`
	SuccessRate  float64       `json:"success_rate"`
	Efficiency   float64       `json:"efficiency"`
	CurrentDelay time.Duration `json:"current_delay"`
}

// Client sends GraphQL requests to the governance API with adaptive pacing
// and bounded retries. One instance per run; all pagination shares it.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	pacer    *pacer

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	sends       atomic.Int64
	requests    atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	rateLimited atomic.Int64
}

// Option configures the client.
type Option func(*Client)

// WithEndpoint overrides the default API endpoint.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPacing overrides the adaptive delay floor and ceiling.
func WithPacing(floor, ceiling time.Duration) Option {
	return func(c *Client) { c.pacer = newPacer(floor, ceiling) }
}

// WithRetry overrides the retry attempt count and backoff bounds.
func WithRetry(maxAttempts int, base, max time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// WithSleep overrides the retry sleep function. Tests inject a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a client that attaches apiKey to every request.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		pacer:       newPacer(defaultFloorDelay, defaultCeilingDelay),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Send posts one GraphQL query and returns the raw data payload. It blocks
// behind the adaptive pacer, retries per the policy in the package doc, and
// returns a *FetchError on terminal failure.
func (c *Client) Send(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, eris.Wrap(err, "tally: marshal request")
	}

	c.sends.Add(1)

	var lastErr *FetchError
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "tally: pacer wait")
		}

		c.requests.Add(1)
		data, fetchErr := c.doOnce(ctx, body)
		if fetchErr == nil {
			c.successes.Add(1)
			c.pacer.OnSuccess()
			return data, nil
		}
		lastErr = fetchErr

		if ctx.Err() != nil {
			c.failures.Add(1)
			return nil, lastErr
		}

		final := attempt == c.maxAttempts-1

		switch fetchErr.Kind {
		case KindRateLimited:
			c.rateLimited.Add(1)
			c.pacer.OnRateLimit()
			if final {
				break
			}
			if err := c.sleep(ctx, c.exponentialBackoff(attempt)); err != nil {
				return nil, lastErr
			}
			continue
		case KindServer:
			c.failures.Add(1)
			if final {
				break
			}
			if err := c.sleep(ctx, c.exponentialBackoff(attempt)); err != nil {
				return nil, lastErr
			}
			continue
		case KindTimeout, KindConnection:
			c.failures.Add(1)
			if final {
				break
			}
			if err := c.sleep(ctx, c.baseBackoff*time.Duration(attempt+1)); err != nil {
				return nil, lastErr
			}
			continue
		case KindApplication:
			c.failures.Add(1)
			if final {
				break
			}
			zap.L().Warn("tally: graphql errors, retrying", zap.Error(fetchErr))
			continue
		default:
			// Permanent client errors are never retried.
			c.failures.Add(1)
			return nil, fetchErr
		}
		break
	}

	return nil, lastErr
}

// doOnce performs a single HTTP exchange and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, body []byte) (json.RawMessage, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Kind: KindConnection, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &FetchError{Kind: KindTimeout, Err: err}
		}
		return nil, &FetchError{Kind: KindConnection, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to payload handling below
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{Kind: KindRateLimited, StatusCode: resp.StatusCode, Err: eris.New("rate limited")}
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &FetchError{Kind: KindServer, StatusCode: resp.StatusCode, Err: eris.New("server error")}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &FetchError{
			Kind:       KindPermanent,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", string(snippet)),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindConnection, Err: eris.Wrap(err, "read response")}
	}

	var parsed gqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &FetchError{Kind: KindApplication, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "unmarshal response")}
	}
	if len(parsed.Errors) > 0 {
		return nil, &FetchError{
			Kind:       KindApplication,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("graphql: %s", parsed.Errors[0].Message),
		}
	}

	return parsed.Data, nil
}

func (c *Client) exponentialBackoff(attempt int) time.Duration {
	d := c.baseBackoff << attempt
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

// Stats returns a point-in-time snapshot of request counters.
func (c *Client) Stats() Stats {
	sends := c.sends.Load()
	reqs := c.requests.Load()
	succ := c.successes.Load()
	return Stats{
		Sends:        sends,
		Requests:     reqs,
		Successes:    succ,
		Failures:     c.failures.Load(),
		RateLimited:  c.rateLimited.Load(),
		SuccessRate:  ratio(succ, sends),
		Efficiency:   ratio(succ, reqs),
		CurrentDelay: c.pacer.Delay(),
	}
}

func ratio(num, denom int64) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
