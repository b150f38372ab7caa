package step

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/future"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/stream"
)

var errCacheClosed = stderrors.New("cache step closed")

type datasetFuture = future.Future[future.Result[*cachestore.Dataset]]

// cacheStep persists its upstream into the cache store and serves every
// reader from the persisted copy. One materialization, run under a dedicated
// background job, is shared by all readers until it is invalidated or found
// failed or cancelled.
type cacheStep struct {
	base
	key       string
	batchSize int
	store     *cachestore.Store
	log       *logger.Logger

	// mu guards the fields below and is never held while waiting.
	mu       sync.Mutex
	internal *job.Job
	fut      *datasetFuture
	builds   int
	failures int
	reuse    bool
	closed   bool
}

func newCacheStep(b base, cfg CacheConfig, env Env, fingerprint string) (*cacheStep, error) {
	if env.Store == nil {
		return nil, errors.InvalidConfig("cache", "no cache store configured")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = env.Defaults.BatchSize
	}
	return &cacheStep{
		base:      b,
		key:       fingerprint + "/" + b.id,
		batchSize: batch,
		store:     env.Store,
		log:       env.logger().WithComponent("cache-step").WithStep(b.id, string(b.kind)),
		reuse:     true,
	}, nil
}

// Key is the store key of this step in its current configuration.
func (c *cacheStep) Key() string { return c.key }

// Builds returns how many materializations have been started.
func (c *cacheStep) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// Failures returns how many materializations ended in an error other than
// cancellation.
func (c *cacheStep) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *cacheStep) Apply(_ *job.Job, upstream stream.Stream) (stream.Stream, error) {
	return &cacheStream{step: c, upstream: upstream}, nil
}

// Invalidate evicts the current materialization. The persisted copy is
// never reused afterwards and is replaced by the next build.
func (c *cacheStep) Invalidate() {
	c.mu.Lock()
	c.cancelLocked()
	c.reuse = false
	c.mu.Unlock()
	c.log.Debug("Cache invalidated", logger.Fields(logger.FieldCacheKey, c.key))
}

// Close cancels any running materialization and removes the persisted copy.
func (c *cacheStep) Close() error {
	c.release()
	return c.store.Drop(context.Background(), c.key)
}

// release retires the step without touching the persisted copy.
func (c *cacheStep) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.closed = true
}

func (c *cacheStep) cancelLocked() {
	if c.internal != nil {
		c.internal.Cancel()
	}
	if c.fut != nil {
		c.fut.Cancel()
	}
	c.internal, c.fut = nil, nil
}

// acquire returns the live materialization, evicting one that failed, ended
// without a result or lost its job.
func (c *cacheStep) acquire(upstream stream.Stream) (*datasetFuture, *job.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errors.CacheFailed(c.key, errCacheClosed)
	}
	if c.staleLocked() {
		c.evictLocked(upstream)
	}
	return c.fut, c.internal, nil
}

func (c *cacheStep) staleLocked() bool {
	if c.fut == nil {
		return true
	}
	switch c.fut.State() {
	case future.StateCancelled:
		return true
	case future.StateCompleted:
		r, _ := c.fut.Result()
		return !r.OK()
	}
	return c.internal.IsCancelled()
}

func (c *cacheStep) evictLocked(upstream stream.Stream) {
	c.cancelLocked()

	internal := job.New(job.PriorityBackground)
	src := upstream.Clone()
	reuse := c.reuse
	c.reuse = false
	c.builds++

	fut := future.New(func(j *job.Job, deliver func(future.Result[*cachestore.Dataset])) {
		if reuse {
			if ds, err := c.store.Find(j.Context(), c.key); err == nil {
				c.log.Debug("Reusing persisted dataset", logger.Fields(logger.FieldCacheKey, c.key, logger.FieldRows, ds.Rows))
				deliver(future.Succeed(ds))
				return
			}
		}
		ds, err := c.materialize(j, src)
		if err != nil {
			deliver(future.Fail[*cachestore.Dataset](err))
			return
		}
		deliver(future.Succeed(ds))
	})
	c.internal, c.fut = internal, fut
	fut.Get(internal, nil)
}

// dataset waits for the shared materialization on behalf of reader j. A
// reader giving up only stops its own wait.
func (c *cacheStep) dataset(j *job.Job, upstream stream.Stream) (*cachestore.Dataset, error) {
	for {
		if j.IsCancelled() {
			return nil, errors.Cancelled("cache read")
		}
		fut, internal, err := c.acquire(upstream)
		if err != nil {
			return nil, err
		}

		wait := j.Child()
		relay := &readerRelay{reader: j, wait: wait}
		internal.AddObserver(relay)
		res, err := fut.Await(wait)
		internal.RemoveObserver(relay)
		wait.Cancel()

		if err != nil {
			if j.IsCancelled() {
				return nil, errors.Cancelled("cache read")
			}
			continue
		}
		return res.Unwrap()
	}
}

// readerRelay forwards the dedicated job's progress to a reader and ends the
// reader's current wait when the dedicated job is cancelled.
type readerRelay struct {
	reader *job.Job
	wait   *job.Job
}

func (r *readerRelay) JobProgressed(source *job.Job, progress float64) {
	r.reader.JobProgressed(source, progress)
}

func (r *readerRelay) JobCancelled(*job.Job) {
	r.wait.Cancel()
}

func (c *cacheStep) materialize(j *job.Job, src stream.Stream) (ds *cachestore.Dataset, err error) {
	ctx, span := observability.StartSpan(j.Context(), observability.SpanCacheMaterialize,
		attribute.String(observability.AttrJobID, j.ID().String()),
		attribute.String(observability.AttrStepID, c.id),
		attribute.String(observability.AttrCacheKey, c.key),
	)
	defer func() { observability.EndSpan(span, err) }()

	log := c.log.WithJob(j.ID().String())
	metrics := observability.Engine()
	start := time.Now()

	ds, err = c.build(ctx, j, src)
	if err != nil {
		if j.IsCancelled() {
			log.Debug("Materialization cancelled", logger.Fields(logger.FieldCacheKey, c.key))
			return nil, errors.Cancelled("cache materialize")
		}
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		metrics.CacheFailure(ctx, c.key)
		log.Error("Materialization failed", logger.Fields(logger.FieldCacheKey, c.key, logger.FieldError, err.Error()))
		return nil, errors.CacheFailed(c.key, err)
	}

	metrics.CacheBuild(ctx, c.key)
	span.SetAttributes(attribute.Int64(observability.AttrRows, ds.Rows))
	log.Info("Dataset materialized", logger.Fields(
		logger.FieldCacheKey, c.key,
		logger.FieldRows, ds.Rows,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return ds, nil
}

func (c *cacheStep) build(ctx context.Context, j *job.Job, src stream.Stream) (*cachestore.Dataset, error) {
	cols, err := src.Columns(j)
	if err != nil {
		return nil, err
	}
	ds, err := c.store.Create(ctx, c.key, cols)
	if err != nil {
		return nil, err
	}
	err = stream.Drain(j, src, func(rows []stream.Tuple) error {
		return c.store.Append(ctx, ds, rows)
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.Seal(ctx, ds); err != nil {
		return nil, err
	}
	j.ReportProgress("cache:"+c.id, 1)
	return ds, nil
}

// cacheStream reads the shared dataset back from the store.
type cacheStream struct {
	step     *cacheStep
	upstream stream.Stream
	rows     stream.Stream
}

func (s *cacheStream) open(j *job.Job) (stream.Stream, error) {
	if s.rows != nil {
		return s.rows, nil
	}
	ds, err := s.step.dataset(j, s.upstream)
	if err != nil {
		return nil, err
	}
	s.rows = s.step.store.Stream(ds, s.step.batchSize)
	return s.rows, nil
}

func (s *cacheStream) Columns(j *job.Job) (stream.Columns, error) {
	rows, err := s.open(j)
	if err != nil {
		return nil, err
	}
	return rows.Columns(j)
}

func (s *cacheStream) Fetch(j *job.Job) (stream.Batch, error) {
	if j.IsCancelled() {
		return stream.Batch{Status: stream.Finished}, nil
	}
	rows, err := s.open(j)
	if err != nil {
		if errors.IsCancelled(err) {
			return stream.Batch{Status: stream.Finished}, nil
		}
		return stream.Batch{}, err
	}
	return rows.Fetch(j)
}

func (s *cacheStream) Clone() stream.Stream {
	return &cacheStream{step: s.step, upstream: s.upstream}
}
