package middleware_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/resilience"
	"github.com/kbukum/conduit/server/middleware"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var body errors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return body
}

func TestRecovery(t *testing.T) {
	log := logger.Nop()

	t.Run("no panic", func(t *testing.T) {
		rr := httptest.NewRecorder()
		middleware.Recovery(log)(okHandler(http.StatusOK)).
			ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("panic", func(t *testing.T) {
		h := middleware.Recovery(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/chains", http.NoBody))

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		if body := decodeError(t, rr); body.Error.Code != errors.ErrCodeInternal {
			t.Errorf("expected %s, got %s", errors.ErrCodeInternal, body.Error.Code)
		}
	})
}

func TestRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		var seen string
		h := middleware.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get(middleware.RequestIDHeader)
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))

		if seen == "" {
			t.Fatal("expected the handler to see a request id")
		}
		if got := rr.Header().Get(middleware.RequestIDHeader); got != seen {
			t.Errorf("expected response id %q, got %q", seen, got)
		}
	})

	t.Run("kept", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.Header.Set(middleware.RequestIDHeader, "preview-7")
		rr := httptest.NewRecorder()
		middleware.RequestID()(okHandler(http.StatusOK)).ServeHTTP(rr, req)

		if got := rr.Header().Get(middleware.RequestIDHeader); got != "preview-7" {
			t.Errorf("expected preview-7, got %s", got)
		}
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         middleware.CORSConfig
		method      string
		path        string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantMethods string
		wantCreds   string
		wantExpose  string
	}{
		{
			name:        "listed origin",
			cfg:         middleware.CORSConfig{AllowedOrigins: []string{"https://ui.local"}, AllowedMethods: []string{"GET", "POST"}},
			method:      "GET",
			origin:      "https://ui.local",
			wantStatus:  http.StatusOK,
			wantOrigin:  "https://ui.local",
			wantMethods: "GET, POST",
		},
		{
			name:       "unlisted origin",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"https://ui.local"}},
			method:     "GET",
			origin:     "https://other.local",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard with credentials",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true},
			method:     "GET",
			origin:     "https://ui.local",
			wantStatus: http.StatusOK,
			wantOrigin: "https://ui.local",
			wantCreds:  "true",
		},
		{
			name:       "preflight",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"*"}},
			method:     "OPTIONS",
			origin:     "https://ui.local",
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://ui.local",
		},
		{
			name:       "exposes request id",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"*"}, ExposedHeaders: []string{middleware.RequestIDHeader}},
			method:     "GET",
			origin:     "https://ui.local",
			wantStatus: http.StatusOK,
			wantOrigin: "https://ui.local",
			wantExpose: middleware.RequestIDHeader,
		},
		{
			name:       "preflight under api paths",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"*"}, Paths: []string{"/api/"}},
			method:     "OPTIONS",
			origin:     "https://ui.local",
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://ui.local",
		},
		{
			name:       "outside api paths",
			cfg:        middleware.CORSConfig{AllowedOrigins: []string{"*"}, Paths: []string{"/api/"}},
			method:     "OPTIONS",
			path:       "/health",
			origin:     "https://ui.local",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = "/api/chains"
			}
			req := httptest.NewRequest(tt.method, path, http.NoBody)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			middleware.CORS(&tt.cfg)(okHandler(http.StatusOK)).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("expected origin %q, got %q", tt.wantOrigin, got)
			}
			if got := rr.Header().Get("Access-Control-Allow-Methods"); got != tt.wantMethods {
				t.Errorf("expected methods %q, got %q", tt.wantMethods, got)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("expected credentials %q, got %q", tt.wantCreds, got)
			}
			if got := rr.Header().Get("Access-Control-Expose-Headers"); got != tt.wantExpose {
				t.Errorf("expected exposed headers %q, got %q", tt.wantExpose, got)
			}
		})
	}
}

func TestUnder(t *testing.T) {
	mark := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Marked", "yes")
			next.ServeHTTP(w, r)
		})
	}
	tests := []struct {
		name     string
		prefixes []string
		path     string
		want     string
	}{
		{"under prefix", []string{"/api/"}, "/api/chains", "yes"},
		{"outside prefix", []string{"/api/"}, "/health", ""},
		{"second prefix", []string{"/api/", "/info"}, "/info", "yes"},
		{"no prefixes", nil, "/health", "yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			middleware.Under(tt.prefixes, mark)(okHandler(http.StatusOK)).
				ServeHTTP(rr, httptest.NewRequest("GET", tt.path, http.NoBody))
			if got := rr.Header().Get("X-Marked"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name  string
		limit int64
		body  string
		want  int
	}{
		{"within limit", 16, "short", http.StatusOK},
		{"over limit", 4, "much too long", http.StatusRequestEntityTooLarge},
		{"disabled", 0, strings.Repeat("x", 1024), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			middleware.BodySizeLimit(tt.limit)(read).
				ServeHTTP(rr, httptest.NewRequest("POST", "/", strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{Name: "test", Rate: 0.001, Burst: 1})
	h := middleware.RateLimit(limiter)(okHandler(http.StatusOK))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("GET", "/api/chains", http.NoBody))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest("GET", "/api/chains", http.NoBody))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	body := decodeError(t, second)
	if body.Error.Code != errors.ErrCodeRateLimited || !body.Error.Retryable {
		t.Errorf("expected retryable %s, got %+v", errors.ErrCodeRateLimited, body.Error)
	}

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest("GET", "/health", http.NoBody))
	if health.Code != http.StatusOK {
		t.Errorf("expected health to bypass the limit, got %d", health.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	log := logger.Nop()
	for _, path := range []string{"/api/chains", "/health"} {
		t.Run(path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			middleware.RequestLogger(log)(okHandler(http.StatusAccepted)).
				ServeHTTP(rr, httptest.NewRequest("POST", path, http.NoBody))
			if rr.Code != http.StatusAccepted {
				t.Errorf("expected 202, got %d", rr.Code)
			}
		})
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+">")
				next.ServeHTTP(w, r)
				order = append(order, "<"+name)
			})
		}
	}

	h := middleware.Chain(mark("a"), mark("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	want := "a> b> handler <b <a"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

type flushRecorder struct {
	http.ResponseWriter
	flushed bool
}

func (f *flushRecorder) Flush() { f.flushed = true }

func TestRequestLogger_DelegatesFlush(t *testing.T) {
	fr := &flushRecorder{ResponseWriter: httptest.NewRecorder()}
	h := middleware.RequestLogger(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))
	h.ServeHTTP(fr, httptest.NewRequest("GET", "/api/chains/a/rows", http.NoBody))

	if !fr.flushed {
		t.Error("expected Flush to reach the underlying writer")
	}
}
