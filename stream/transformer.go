package stream

import (
	"sync"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/future"
	"github.com/kbukum/conduit/job"
)

// Transform describes a per-batch transformation of a stream.
//
// OutputColumns derives the output schema from the upstream schema. It is
// called at most once per stream instance; source is the upstream stream and
// must be cloned before it is iterated. TransformRows maps one batch of
// upstream rows to output rows.
type Transform interface {
	OutputColumns(j *job.Job, source Stream, upstream Columns) (Columns, error)
	TransformRows(j *job.Job, upstream, output Columns, rows []Tuple) ([]Tuple, error)
}

type columnsFuture = future.Future[future.Result[Columns]]

// Transformer is a Stream applying a Transform to every batch of its source.
// Both schemas are resolved once through futures shared by every Fetch.
type Transformer struct {
	source    Stream
	transform Transform

	mu       sync.Mutex
	upstream *columnsFuture
	output   *columnsFuture
}

// NewTransformer wraps source with transform.
func NewTransformer(source Stream, transform Transform) *Transformer {
	return &Transformer{source: source, transform: transform}
}

// Columns returns the output schema.
func (t *Transformer) Columns(j *job.Job) (Columns, error) {
	_, out, err := t.schemas(j)
	return out, err
}

// Fetch returns the next transformed batch.
func (t *Transformer) Fetch(j *job.Job) (Batch, error) {
	if j.IsCancelled() {
		return Batch{Status: Finished}, nil
	}
	up, out, err := t.schemas(j)
	if err != nil {
		if errors.IsCancelled(err) {
			return Batch{Status: Finished}, nil
		}
		return Batch{}, err
	}

	b, err := t.source.Fetch(j)
	if err != nil {
		return Batch{}, err
	}
	if j.IsCancelled() {
		return Batch{Status: Finished}, nil
	}
	if len(b.Rows) == 0 {
		return Batch{Status: b.Status}, nil
	}
	rows, err := t.transform.TransformRows(j, up, out, b.Rows)
	if err != nil {
		if j.IsCancelled() {
			return Batch{Status: Finished}, nil
		}
		return Batch{}, err
	}
	return Batch{Rows: rows, Status: b.Status}, nil
}

// Clone returns a transformer over a clone of the source with fresh schema futures.
func (t *Transformer) Clone() Stream {
	return NewTransformer(t.source.Clone(), t.transform)
}

func (t *Transformer) schemas(j *job.Job) (Columns, Columns, error) {
	up, err := awaitFresh(j, t.upstreamFuture)
	if err != nil {
		return nil, nil, err
	}
	out, err := awaitFresh(j, t.outputFuture)
	if err != nil {
		return nil, nil, err
	}
	return up, out, nil
}

// awaitFresh waits on the future returned by get. A future that ended
// without a result because another job started it and was cancelled is
// replaced and awaited again, as long as j itself is live.
func awaitFresh[T any](j *job.Job, get func() *future.Future[future.Result[T]]) (T, error) {
	for {
		f := get()
		v, err := future.AwaitValue(j, f)
		if err != nil && f.State() == future.StateCancelled && !j.IsCancelled() {
			continue
		}
		return v, err
	}
}

// upstreamFuture returns the upstream schema future, replacing one that
// ended without a result.
func (t *Transformer) upstreamFuture() *columnsFuture {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.upstream == nil || t.upstream.State() == future.StateCancelled {
		t.upstream = future.New(func(j *job.Job, deliver func(future.Result[Columns])) {
			cols, err := t.source.Columns(j)
			if err != nil {
				deliver(future.Fail[Columns](err))
				return
			}
			deliver(future.Succeed(cols))
		})
	}
	return t.upstream
}

func (t *Transformer) outputFuture() *columnsFuture {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.output == nil || t.output.State() == future.StateCancelled {
		t.output = future.New(func(j *job.Job, deliver func(future.Result[Columns])) {
			up, err := awaitFresh(j, t.upstreamFuture)
			if err != nil {
				deliver(future.Fail[Columns](err))
				return
			}
			cols, err := t.transform.OutputColumns(j, t.source, up)
			if err != nil {
				deliver(future.Fail[Columns](err))
				return
			}
			deliver(future.Succeed(cols))
		})
	}
	return t.output
}
