// Package api wraps the passenger endpoints of the ride backend.
//
// Most calls are tolerant: transport errors, non-2xx answers and malformed
// bodies are logged and degrade to a nil or empty result. Trip creation,
// wait-assignment and ratings are the exceptions and return typed errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/rider-client/internal/eta"
	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/observability"
)

const maxBodyBytes = 1 << 20

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	// estimates caches route prices per coordinate pair; nil disables it.
	estimates *eta.Cache[models.PriceQuote]
}

type Option func(*Client)

// WithHTTPClient replaces the transport. Its Timeout should stay zero: per-call
// deadlines come from the context so the assignment long-poll is not cut short.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit throttles outbound calls. A non-positive limit disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithEstimateCache reuses a route estimate for ttl, so re-quoting the same
// route (after a service type change, say) does not hit the backend again.
func WithEstimateCache(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.estimates = eta.NewCache[models.PriceQuote](ttl)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{},
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    any
	public  bool          // token attached when present, never required
	timeout time.Duration // overrides the client default
}

// do performs one request and returns the status code and the body.
func (c *Client) do(ctx context.Context, cl call) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("read token: %w", err)
	}
	if token == "" && !cl.public {
		return 0, nil, ErrNoToken
	}

	timeout := c.timeout
	if cl.timeout > 0 {
		timeout = cl.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s body: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.APIRequestDuration.WithLabelValues(cl.op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(cl.op, "error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()
	observability.APIRequestsTotal.WithLabelValues(cl.op, strconv.Itoa(resp.StatusCode)).Inc()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// getJSON runs a tolerant call and decodes a 2xx body into out. It reports
// whether out was filled.
func (c *Client) getJSON(ctx context.Context, cl call, out any) bool {
	status, body, err := c.do(ctx, cl)
	if err != nil {
		c.logger.Debug("api call failed", zap.String("op", cl.op), zap.Error(err))
		return false
	}
	if status < 200 || status > 299 {
		c.logger.Debug("api call rejected", zap.String("op", cl.op), zap.Int("status", status))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Warn("api response malformed", zap.String("op", cl.op), zap.Error(err))
		return false
	}
	return true
}
