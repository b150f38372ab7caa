package step

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/httpfetch"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/stream"
)

func urlRows(urls ...string) stream.Stream {
	r := stream.NewRaster(stream.Names("url"))
	for _, u := range urls {
		r.Rows = append(r.Rows, stream.Tuple{stream.String(u)})
	}
	return stream.NewRasterStream(r, 0)
}

func crawlCfg(maxConcurrent int) CrawlConfig {
	return CrawlConfig{
		URLColumn:          "url",
		BodyColumn:         "body",
		StatusColumn:       "status",
		ErrorColumn:        "error",
		ResponseTimeColumn: "ms",
		MaxConcurrent:      maxConcurrent,
	}
}

func byURL(t *testing.T, r *stream.Raster) map[string]stream.Tuple {
	t.Helper()
	out := make(map[string]stream.Tuple, r.Len())
	for _, row := range r.Rows {
		u, _ := row[0].AsString()
		out[u] = row
	}
	return out
}

func TestCrawlStep_RowOutcomes(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{"http://x": "hello"}}
	s, err := newCrawlStep(base{id: "crawl", kind: KindCrawl}, crawlCfg(2), Env{Fetcher: fetcher, Log: logger.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := s.Apply(newJob(), urlRows("http://x", "not a url"))
	r := collect(t, out)

	if got := fmt.Sprint(r.Columns.Strings()); got != "[url body status error ms]" {
		t.Fatalf("unexpected columns %s", got)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", r.Len())
	}
	rows := byURL(t, r)

	ok := rows["http://x"]
	if body, _ := ok[1].AsString(); body != "hello" {
		t.Errorf("expected body hello, got %v", ok[1])
	}
	if status, _ := ok[2].AsInt(); status != 200 {
		t.Errorf("expected status 200, got %v", ok[2])
	}
	if msg, isStr := ok[3].AsString(); !isStr || msg != "" {
		t.Errorf("expected empty error, got %v", ok[3])
	}
	if ok[4].Kind() != stream.KindDouble {
		t.Errorf("expected response time as double, got %v", ok[4].Kind())
	}

	bad := rows["not a url"]
	if !bad[1].IsInvalid() || !bad[2].IsInvalid() {
		t.Errorf("expected invalid body and status, got %v %v", bad[1], bad[2])
	}
	if msg, _ := bad[3].AsString(); msg != "Invalid URL" {
		t.Errorf("expected Invalid URL, got %v", bad[3])
	}
	if len(fetcher.calls) != 1 {
		t.Errorf("expected only the valid URL to be fetched, got %v", fetcher.calls)
	}
}

func TestCrawlStep_FetchFailureFillsErrorColumn(t *testing.T) {
	s, _ := newCrawlStep(base{id: "crawl"}, crawlCfg(1), Env{Fetcher: &fakeFetcher{}, Log: logger.Nop()})
	out, _ := s.Apply(newJob(), urlRows("http://unreachable.invalid"))
	r := collect(t, out)
	row := r.Rows[0]
	if !row[1].IsInvalid() || !row[2].IsInvalid() {
		t.Errorf("expected invalid body and status, got %v %v", row[1], row[2])
	}
	if msg, _ := row[3].AsString(); msg == "" {
		t.Error("expected the failure message in the error column")
	}
}

func TestCrawlStep_BoundsConcurrency(t *testing.T) {
	pages := make(map[string]string)
	var urls []string
	for i := 0; i < 40; i++ {
		u := fmt.Sprintf("http://host/%d", i)
		pages[u] = "ok"
		urls = append(urls, u)
	}
	fetcher := &fakeFetcher{pages: pages}
	s, _ := newCrawlStep(base{id: "crawl"}, crawlCfg(3), Env{Fetcher: fetcher, Log: logger.Nop()})
	out, _ := s.Apply(newJob(), urlRows(urls...))
	r := collect(t, out)
	if r.Len() != 40 {
		t.Fatalf("expected 40 rows, got %d", r.Len())
	}
	if p := fetcher.peak.Load(); p > 3 {
		t.Errorf("expected at most 3 fetches in flight, got %d", p)
	}
}

func TestCrawlStep_ReplacesExistingTargetColumn(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{"http://x": "new"}}
	cfg := CrawlConfig{URLColumn: "url", BodyColumn: "body"}
	s, _ := newCrawlStep(base{id: "crawl"}, cfg, Env{Fetcher: fetcher, Log: logger.Nop()})

	up := stream.NewRasterStream(stream.NewRaster(stream.Names("body", "url"),
		stream.Tuple{stream.String("old"), stream.String("http://x")}), 0)
	out, _ := s.Apply(newJob(), up)
	r := collect(t, out)
	if got := fmt.Sprint(r.Columns.Strings()); got != "[body url]" {
		t.Fatalf("expected the body column to be reused, got %s", got)
	}
	if body, _ := r.Rows[0][0].AsString(); body != "new" {
		t.Errorf("expected body replaced, got %v", r.Rows[0][0])
	}
}

func TestCrawlStep_UnknownURLColumn(t *testing.T) {
	s, _ := newCrawlStep(base{id: "crawl"}, CrawlConfig{URLColumn: "link", BodyColumn: "b"}, Env{Fetcher: &fakeFetcher{}, Log: logger.Nop()})
	out, _ := s.Apply(newJob(), urlRows("http://x"))
	_, err := out.Columns(newJob())
	expectCode(t, err, errors.ErrCodeUnknownColumn)
}

func TestCrawlStep_WithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("page " + r.URL.Path))
	}))
	defer srv.Close()

	client, err := httpfetch.New(httpfetch.Config{Timeout: 2 * time.Second}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := newCrawlStep(base{id: "crawl"}, crawlCfg(2), Env{Fetcher: client, Log: logger.Nop()})
	out, _ := s.Apply(newJob(), urlRows(srv.URL+"/a", srv.URL+"/missing"))
	rows := byURL(t, collect(t, out))

	if body, _ := rows[srv.URL+"/a"][1].AsString(); body != "page /a" {
		t.Errorf("expected page body, got %v", rows[srv.URL+"/a"][1])
	}
	missing := rows[srv.URL+"/missing"]
	if status, _ := missing[2].AsInt(); status != 404 {
		t.Errorf("expected status 404, got %v", missing[2])
	}
	if msg, _ := missing[3].AsString(); msg != "" {
		t.Errorf("expected an HTTP error status to be a successful fetch, got %q", msg)
	}
}

func TestCrawlStep_CancelledJobYieldsNoRows(t *testing.T) {
	s, _ := newCrawlStep(base{id: "crawl"}, crawlCfg(1), Env{Fetcher: &fakeFetcher{}, Log: logger.Nop()})
	j := newJob()
	out, _ := s.Apply(j, urlRows("http://x", "http://y"))
	j.Cancel()
	b, err := out.Fetch(j)
	if err != nil || len(b.Rows) != 0 || b.Status != stream.Finished {
		t.Errorf("expected an empty finished batch, got %+v (err=%v)", b, err)
	}
}

// peakInWindow returns the largest number of starts falling within any
// interval of length window.
func peakInWindow(starts []time.Time, window time.Duration) int {
	peak := 0
	for i := range starts {
		n := 0
		for _, s := range starts[i:] {
			if s.Sub(starts[i]) < window {
				n++
			}
		}
		peak = max(peak, n)
	}
	return peak
}

func TestCrawlStep_RateLimitHoldsAcrossBatches(t *testing.T) {
	pages := make(map[string]string)
	r := stream.NewRaster(stream.Names("url"))
	for i := 0; i < 4; i++ {
		u := fmt.Sprintf("http://host/%d", i)
		pages[u] = "ok"
		r.Rows = append(r.Rows, stream.Tuple{stream.String(u)})
	}
	fetcher := &fakeFetcher{pages: pages}
	cfg := crawlCfg(4)
	cfg.MaxPerSecond = 2
	s, _ := newCrawlStep(base{id: "crawl"}, cfg, Env{Fetcher: fetcher, Log: logger.Nop()})

	out, _ := s.Apply(newJob(), stream.NewRasterStream(r, 1))
	if got := collect(t, out); got.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", got.Len())
	}

	fetcher.mu.Lock()
	starts := append([]time.Time(nil), fetcher.starts...)
	fetcher.mu.Unlock()
	if peak := peakInWindow(starts, 900*time.Millisecond); peak > 2 {
		t.Errorf("expected at most 2 fetches to start within a second, got %d", peak)
	}
}

// slowFetcher blocks every fetch until released and reports the state of
// the request context when the fetch returns.
type slowFetcher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (f *slowFetcher) Fetch(ctx context.Context, url string) (*httpfetch.Response, error) {
	f.started <- struct{}{}
	<-f.release
	f.ctxErr <- ctx.Err()
	return &httpfetch.Response{URL: url, StatusCode: 200, Body: []byte("late")}, nil
}

func TestCrawlStep_CancelDoesNotAbortRunningFetch(t *testing.T) {
	fetcher := &slowFetcher{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	s, _ := newCrawlStep(base{id: "crawl"}, crawlCfg(1), Env{Fetcher: fetcher, Log: logger.Nop()})
	j := newJob()
	out, _ := s.Apply(j, urlRows("http://slow"))

	go func() { _, _ = out.Fetch(j) }()
	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}
	j.Cancel()
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)

	select {
	case err := <-fetcher.ctxErr:
		if err != nil {
			t.Errorf("expected the running fetch to keep a live context, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return")
	}
}
