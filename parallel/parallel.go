package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/resilience"
)

// Options bounds a parallel run.
type Options struct {
	// MaxConcurrent caps operations in flight. Values <= 0 use GOMAXPROCS.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" json:"max_concurrent" validate:"gte=0"`
	// MaxPerSecond caps operation starts within any rolling second. 0 disables it.
	MaxPerSecond int `yaml:"max_per_second" mapstructure:"max_per_second" json:"max_per_second" validate:"gte=0"`
	// ProgressKey names the progress component reported on the job.
	ProgressKey string `yaml:"-" mapstructure:"-" json:"-"`
	// Limiter gates starts instead of a limiter built from MaxPerSecond.
	// Callers that run several batches under one budget share it across runs.
	Limiter *resilience.WindowLimiter `yaml:"-" mapstructure:"-" json:"-"`
}

func (o Options) normalized() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = runtime.GOMAXPROCS(0)
	}
	if o.MaxPerSecond < 0 {
		o.MaxPerSecond = 0
	}
	if o.ProgressKey == "" {
		o.ProgressKey = "parallel"
	}
	return o
}

// Op processes one item. It must call done exactly once when the item is
// finished, from any goroutine; extra calls are ignored.
type Op[T any] func(j *job.Job, item T, done func())

// ForEach starts op for every item without blocking the caller. At most
// MaxConcurrent operations are in flight and at most MaxPerSecond start
// within any rolling second. Once j is cancelled the items not yet started
// are skipped; started operations run to completion. completion is called
// exactly once, after every item has finished or been skipped.
func ForEach[T any](j *job.Job, items []T, opts Options, op Op[T], completion func()) {
	opts = opts.normalized()
	if len(items) == 0 {
		completion()
		return
	}
	j.Async(func() { dispatch(j, items, opts, op, completion) })
}

func dispatch[T any](j *job.Job, items []T, opts Options, op Op[T], completion func()) {
	log := logger.Get("parallel").WithJob(j.ID().String())
	metrics := observability.Engine()
	ctx := j.Context()

	slots := resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "parallel",
		MaxConcurrent: opts.MaxConcurrent,
	})
	window := opts.Limiter
	if window == nil && opts.MaxPerSecond > 0 {
		window = resilience.PerSecond(opts.MaxPerSecond)
	}

	total := len(items)
	var (
		wg       sync.WaitGroup
		finished atomic.Int64
	)
	report := func() {
		j.ReportProgress(opts.ProgressKey, float64(finished.Add(1))/float64(total))
	}

	started := 0
	for _, item := range items {
		if j.IsCancelled() {
			break
		}
		if err := slots.Acquire(ctx); err != nil {
			break
		}
		if window != nil {
			if err := window.Wait(ctx); err != nil {
				slots.Release()
				break
			}
		}
		if j.IsCancelled() {
			slots.Release()
			break
		}

		started++
		wg.Add(1)
		var once sync.Once
		done := func() {
			once.Do(func() {
				slots.Release()
				report()
				wg.Done()
			})
		}
		j.Async(func() { op(j, item, done) })
	}

	skipped := total - started
	metrics.ParallelStarted(ctx, started)
	if skipped > 0 {
		metrics.ParallelSkipped(ctx, skipped)
		log.Debug("skipping items after cancellation", logger.Fields(
			"started", started,
			"skipped", skipped,
		))
	}

	wg.Wait()
	if skipped > 0 {
		j.ReportProgress(opts.ProgressKey, 1)
	}
	completion()
}

// Run is ForEach that blocks until completion.
func Run[T any](j *job.Job, items []T, opts Options, op Op[T]) {
	finished := make(chan struct{})
	ForEach(j, items, opts, op, func() { close(finished) })
	<-finished
}

// Map runs fn for every item and returns the outputs in the order the
// operations finished. Skipped items produce no output.
func Map[T, R any](j *job.Job, items []T, opts Options, fn func(j *job.Job, item T) R) []R {
	var (
		mu  sync.Mutex
		out = make([]R, 0, len(items))
	)
	Run(j, items, opts, func(j *job.Job, item T, done func()) {
		defer done()
		r := fn(j, item)
		mu.Lock()
		out = append(out, r)
		mu.Unlock()
	})
	return out
}
