package httpfetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/resilience"
	"github.com/kbukum/conduit/validation"
)

// Response is a fetched page.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a page. Any HTTP response, whatever its status, is a
// successful fetch; an error means no response was obtained.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Client is a Fetcher on net/http with politeness limiting, retries and an
// optional circuit breaker.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

var _ Fetcher = (*Client)(nil)

// New creates a client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		http: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Timeout:   cfg.Timeout,
		},
		cfg: cfg,
		log: log.WithComponent("httpfetch"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Name:  "httpfetch",
			Rate:  cfg.RequestsPerSecond,
			Burst: cfg.Burst,
		})
	}
	if cfg.CircuitBreaker != nil {
		bc := *cfg.CircuitBreaker
		if bc.Name == "" {
			bc.Name = "httpfetch"
		}
		bc.IsFailure = isTransportFailure
		bc.OnStateChange = func(name string, from, to resilience.State) {
			c.log.Warn("Circuit state changed", logger.Fields("breaker", name, "from", from.String(), "to", to.String()))
		}
		c.breaker = resilience.NewCircuitBreaker(bc)
	}
	return c, nil
}

// Fetch performs a GET of rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if !validation.IsHTTPURL(rawURL) {
		return nil, errors.InvalidURL(rawURL)
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanHTTPFetch,
		attribute.String(observability.AttrURL, rawURL))

	retry := c.cfg.Retry
	retry.RetryIf = func(err error) bool {
		var se *statusError
		if stderrors.As(err, &se) {
			return true
		}
		return resilience.DefaultRetryIf(classify(ctx, rawURL, err))
	}
	retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.log.Debug("Retrying fetch", logger.Fields(logger.FieldURL, rawURL, "attempt", attempt,
			logger.FieldError, err.Error(), "backoff", backoff.String()))
	}

	resp, err := resilience.Retry(ctx, retry, func() (*Response, error) {
		return c.attempt(ctx, rawURL)
	})

	var se *statusError
	if stderrors.As(err, &se) {
		resp, err = se.resp, nil
	}
	if err != nil {
		err = classify(ctx, rawURL, err)
		observability.EndSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(observability.AttrStatus, resp.StatusCode))
	observability.EndSpan(span, nil)
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, rawURL string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.breaker == nil {
		return c.do(ctx, rawURL)
	}
	var resp *Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.do(ctx, rawURL)
		return err
	})
	return resp, err
}

func (c *Client) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.InvalidURL(rawURL).WithCause(err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, bodyTooLarge(rawURL, c.cfg.MaxBodyBytes)
	}

	resp := &Response{
		URL:        rawURL,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		Duration:   time.Since(start),
	}
	if retryableStatus(res.StatusCode) {
		return nil, &statusError{resp: resp}
	}
	return resp, nil
}
