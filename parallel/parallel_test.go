package parallel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/resilience"
)

func items(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for completion")
	}
}

func TestForEach_BoundsConcurrency(t *testing.T) {
	j := job.New(job.PriorityUtility)
	var active, peak, ran, completions atomic.Int32
	finished := make(chan struct{})

	ForEach(j, items(1000), Options{MaxConcurrent: 10}, func(j *job.Job, _ int, done func()) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		go func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			active.Add(-1)
			done()
		}()
	}, func() {
		completions.Add(1)
		close(finished)
	})

	waitFor(t, finished, 10*time.Second)
	if peak.Load() > 10 {
		t.Errorf("expected at most 10 in flight, saw %d", peak.Load())
	}
	if ran.Load() != 1000 {
		t.Errorf("expected 1000 operations, got %d", ran.Load())
	}
	time.Sleep(10 * time.Millisecond)
	if completions.Load() != 1 {
		t.Errorf("expected completion exactly once, got %d", completions.Load())
	}
	if p := j.Progress(); p != 1 {
		t.Errorf("expected progress 1, got %v", p)
	}
}

func TestForEach_RateLimitsStarts(t *testing.T) {
	j := job.New(job.PriorityUtility)
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	finished := make(chan struct{})
	ForEach(j, items(12), Options{MaxConcurrent: 100, MaxPerSecond: 5}, func(_ *job.Job, _ int, done func()) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		done()
	}, func() { close(finished) })
	waitFor(t, finished, 10*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 12 {
		t.Fatalf("expected 12 starts, got %d", len(starts))
	}
	for i := range starts {
		n := 0
		for k := range starts {
			d := starts[k].Sub(starts[i])
			if d >= 0 && d < 900*time.Millisecond {
				n++
			}
		}
		if n > 5 {
			t.Fatalf("found %d starts within 900ms of start %d", n, i)
		}
	}
}

func TestRun_SharedLimiterSpansRuns(t *testing.T) {
	j := job.New(job.PriorityUtility)
	opts := Options{MaxConcurrent: 10, Limiter: resilience.PerSecond(2)}
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	op := func(_ *job.Job, _ int, done func()) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		done()
	}
	Run(j, items(2), opts, op)
	Run(j, items(2), opts, op)

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 4 {
		t.Fatalf("expected 4 starts, got %d", len(starts))
	}
	if d := starts[2].Sub(starts[0]); d < 900*time.Millisecond {
		t.Errorf("expected the second run to wait for the shared window, started after %v", d)
	}
}

func TestForEach_CancellationSkipsRemaining(t *testing.T) {
	j := job.New(job.PriorityUtility)
	var started, completions atomic.Int32
	finished := make(chan struct{})

	ForEach(j, items(1000), Options{MaxConcurrent: 1000}, func(j *job.Job, _ int, done func()) {
		if started.Add(1) == 100 {
			j.Cancel()
		}
		done()
	}, func() {
		completions.Add(1)
		close(finished)
	})

	waitFor(t, finished, 5*time.Second)
	got := started.Load()
	if got < 100 {
		t.Errorf("expected at least 100 starts, got %d", got)
	}
	if got >= 1000 {
		t.Errorf("expected items to be skipped after cancellation, all %d started", got)
	}
	time.Sleep(10 * time.Millisecond)
	if completions.Load() != 1 {
		t.Errorf("expected completion exactly once, got %d", completions.Load())
	}
}

func TestForEach_CancelledBeforeStart(t *testing.T) {
	j := job.New(job.PriorityUtility)
	j.Cancel()
	var started atomic.Int32
	finished := make(chan struct{})
	ForEach(j, items(10), Options{MaxConcurrent: 2}, func(_ *job.Job, _ int, done func()) {
		started.Add(1)
		done()
	}, func() { close(finished) })
	waitFor(t, finished, time.Second)
	if started.Load() != 0 {
		t.Errorf("expected no starts, got %d", started.Load())
	}
}

func TestForEach_ZeroItemsCompletesImmediately(t *testing.T) {
	called := false
	ForEach(job.New(job.PriorityUtility), []int{}, Options{}, func(*job.Job, int, func()) {
		t.Error("op must not run")
	}, func() { called = true })
	if !called {
		t.Error("expected synchronous completion for zero items")
	}
}

func TestForEach_DoneIsIdempotent(t *testing.T) {
	j := job.New(job.PriorityUtility)
	var completions atomic.Int32
	finished := make(chan struct{})
	ForEach(j, items(20), Options{MaxConcurrent: 1}, func(_ *job.Job, _ int, done func()) {
		done()
		done()
	}, func() {
		completions.Add(1)
		close(finished)
	})
	waitFor(t, finished, 5*time.Second)
	time.Sleep(10 * time.Millisecond)
	if completions.Load() != 1 {
		t.Errorf("expected one completion, got %d", completions.Load())
	}
}

func TestMap(t *testing.T) {
	out := Map(job.New(job.PriorityUtility), items(50), Options{MaxConcurrent: 4}, func(_ *job.Job, n int) int {
		return n * n
	})
	if len(out) != 50 {
		t.Fatalf("expected 50 outputs, got %d", len(out))
	}
	sum := 0
	for _, v := range out {
		sum += v
	}
	if sum != 40425 {
		t.Errorf("expected sum of squares 40425, got %d", sum)
	}
}

func TestOptions_Normalized(t *testing.T) {
	o := Options{MaxConcurrent: -1, MaxPerSecond: -3}.normalized()
	if o.MaxConcurrent < 1 {
		t.Errorf("expected GOMAXPROCS default, got %d", o.MaxConcurrent)
	}
	if o.MaxPerSecond != 0 {
		t.Errorf("expected negative rate to disable limiting, got %d", o.MaxPerSecond)
	}
	if o.ProgressKey != "parallel" {
		t.Errorf("expected default progress key, got %q", o.ProgressKey)
	}
}
