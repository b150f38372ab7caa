package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/resilience"
	"github.com/kbukum/conduit/version"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestClient_FetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != version.UserAgent() {
			t.Errorf("expected default user agent, got %q", ua)
		}
		if r.Header.Get("X-Test") != "1" {
			t.Error("expected configured header to be sent")
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Headers: map[string]string{"X-Test": "1"}})
	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "hello" {
		t.Errorf("expected 200 hello, got %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Duration <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestClient_ClientErrorIsAResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastRetry(3)})
	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected 404 to be returned as a response, got %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retries for 404, got %d calls", calls.Load())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastRetry(3)})
	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || calls.Load() != 3 {
		t.Errorf("expected success on third attempt, got %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestClient_ExhaustedRetriesReturnLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastRetry(2)})
	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected last response, got %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway || string(resp.Body) != "upstream down" {
		t.Errorf("expected 502 with body, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestClient_InvalidURL(t *testing.T) {
	c := newTestClient(t, Config{})
	for _, raw := range []string{"not a url", "ftp://x", ""} {
		_, err := c.Fetch(context.Background(), raw)
		appErr, ok := errors.AsAppError(err)
		if !ok || appErr.Code != errors.ErrCodeInvalidURL {
			t.Errorf("%q: expected INVALID_URL, got %v", raw, err)
			continue
		}
		if Message(err) != "Invalid URL" {
			t.Errorf("%q: expected message %q, got %q", raw, "Invalid URL", Message(err))
		}
	}
}

func TestClient_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, Config{Retry: fastRetry(1)})
	_, err := c.Fetch(context.Background(), url)
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeConnectionFailed {
		t.Errorf("expected CONNECTION_FAILED, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, Config{Timeout: 50 * time.Millisecond, Retry: fastRetry(1)})
	_, err := c.Fetch(context.Background(), srv.URL)
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeTimeout {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	c := newTestClient(t, Config{Retry: fastRetry(3)})
	_, err := c.Fetch(ctx, srv.URL)
	if !errors.IsCancelled(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestClient_BodyTooLarge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxBodyBytes: 16, Retry: fastRetry(3)})
	_, err := c.Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(Message(err), "exceeds 16 bytes") {
		t.Errorf("expected body size error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected oversized bodies not to be retried, got %d calls", calls.Load())
	}
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, Config{
		Retry:          fastRetry(1),
		CircuitBreaker: &resilience.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute},
	})
	for i := 0; i < 2; i++ {
		_, _ = c.Fetch(context.Background(), url)
	}
	_, err := c.Fetch(context.Background(), url)
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeExternalService {
		t.Fatalf("expected open circuit error, got %v", err)
	}
	if c.breaker.State() != resilience.StateOpen {
		t.Errorf("expected breaker to be open, got %s", c.breaker.State())
	}
}

func TestClient_PolitenessLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestsPerSecond: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("expected token bucket to space requests, took %s", elapsed)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{RequestsPerSecond: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative rate to be rejected")
	}
	cfg = Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
}
