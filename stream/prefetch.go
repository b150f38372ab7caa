package stream

import (
	"sync"

	"github.com/kbukum/conduit/job"
)

type fetched struct {
	batch Batch
	err   error
}

type prefetchStream struct {
	source Stream
	depth  int

	once sync.Once
	ch   chan fetched
	done bool
}

// Prefetch fetches up to depth batches ahead of the consumer on a separate
// goroutine. The goroutine runs under the job of the first Fetch and stops
// when that job is cancelled or the source is exhausted.
func Prefetch(s Stream, depth int) Stream {
	if depth <= 0 {
		depth = 1
	}
	return &prefetchStream{source: s, depth: depth}
}

func (p *prefetchStream) Columns(j *job.Job) (Columns, error) { return p.source.Columns(j) }

func (p *prefetchStream) Fetch(j *job.Job) (Batch, error) {
	if j.IsCancelled() || p.done {
		return Batch{Status: Finished}, nil
	}
	p.once.Do(func() {
		p.ch = make(chan fetched, p.depth)
		j.Async(func() { p.fill(j) })
	})

	select {
	case f, open := <-p.ch:
		if !open {
			p.done = true
			return Batch{Status: Finished}, nil
		}
		if f.err != nil || f.batch.Status == Finished {
			p.done = true
		}
		return f.batch, f.err
	case <-j.Context().Done():
		return Batch{Status: Finished}, nil
	}
}

func (p *prefetchStream) fill(j *job.Job) {
	defer close(p.ch)
	for {
		if j.IsCancelled() {
			return
		}
		b, err := p.source.Fetch(j)
		select {
		case p.ch <- fetched{batch: b, err: err}:
		case <-j.Context().Done():
			return
		}
		if err != nil || b.Status == Finished {
			return
		}
	}
}

func (p *prefetchStream) Clone() Stream { return Prefetch(p.source.Clone(), p.depth) }
