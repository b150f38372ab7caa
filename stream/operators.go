package stream

import (
	"sync"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/future"
	"github.com/kbukum/conduit/job"
)

// --- Limit ---

type limitStream struct {
	source  Stream
	limit   int
	emitted int
}

// Limit passes through at most n rows. The source is not drained past the
// batch that reaches the limit.
func Limit(s Stream, n int) Stream {
	if n < 0 {
		n = 0
	}
	return &limitStream{source: s, limit: n}
}

func (l *limitStream) Columns(j *job.Job) (Columns, error) { return l.source.Columns(j) }

func (l *limitStream) Fetch(j *job.Job) (Batch, error) {
	if j.IsCancelled() || l.emitted >= l.limit {
		return Batch{Status: Finished}, nil
	}
	b, err := l.source.Fetch(j)
	if err != nil {
		return Batch{}, err
	}
	rows := b.Rows
	if remaining := l.limit - l.emitted; len(rows) > remaining {
		rows = rows[:remaining]
	}
	l.emitted += len(rows)

	status := b.Status
	if l.emitted >= l.limit {
		status = Finished
	}
	return Batch{Rows: rows, Status: status}, nil
}

func (l *limitStream) Clone() Stream { return Limit(l.source.Clone(), l.limit) }

// --- Filter / Map ---

// Predicate selects rows.
type Predicate func(columns Columns, row Tuple) bool

type filterTransform struct {
	keep Predicate
}

func (f filterTransform) OutputColumns(_ *job.Job, _ Stream, upstream Columns) (Columns, error) {
	return upstream, nil
}

func (f filterTransform) TransformRows(_ *job.Job, upstream, _ Columns, rows []Tuple) ([]Tuple, error) {
	out := make([]Tuple, 0, len(rows))
	for _, row := range rows {
		if f.keep(upstream, row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Filter keeps the rows for which keep returns true.
func Filter(s Stream, keep Predicate) Stream {
	return NewTransformer(s, filterTransform{keep: keep})
}

// RowFunc maps one upstream row to one output row.
type RowFunc func(upstream Columns, row Tuple) (Tuple, error)

type mapTransform struct {
	columns Columns
	fn      RowFunc
}

func (m mapTransform) OutputColumns(*job.Job, Stream, Columns) (Columns, error) {
	return m.columns, nil
}

func (m mapTransform) TransformRows(_ *job.Job, upstream, _ Columns, rows []Tuple) ([]Tuple, error) {
	out := make([]Tuple, len(rows))
	for i, row := range rows {
		mapped, err := m.fn(upstream, row)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

// Map replaces every row with fn's result. The output schema is columns.
func Map(s Stream, columns Columns, fn RowFunc) Stream {
	return NewTransformer(s, mapTransform{columns: columns, fn: fn})
}

// --- Union ---

type unionSchema struct {
	columns Columns
	// positions of a's and b's columns in the output schema.
	fromA, fromB []int
}

type unionStream struct {
	a, b Stream

	mu     sync.Mutex
	schema *future.Future[future.Result[unionSchema]]
	onB    bool
}

// Union returns the rows of a followed by the rows of b. The schema is a's
// columns followed by those columns of b that a lacks; missing cells are empty.
func Union(a, b Stream) Stream {
	return &unionStream{a: a, b: b}
}

func (u *unionStream) schemaFuture() *future.Future[future.Result[unionSchema]] {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.schema == nil || u.schema.State() == future.StateCancelled {
		u.schema = future.New(func(j *job.Job, deliver func(future.Result[unionSchema])) {
			ca, err := u.a.Columns(j)
			if err != nil {
				deliver(future.Fail[unionSchema](err))
				return
			}
			cb, err := u.b.Columns(j)
			if err != nil {
				deliver(future.Fail[unionSchema](err))
				return
			}
			deliver(future.Succeed(mergeColumns(ca, cb)))
		})
	}
	return u.schema
}

func mergeColumns(a, b Columns) unionSchema {
	out := append(Columns(nil), a...)
	fromA := make([]int, len(a))
	for i := range a {
		fromA[i] = i
	}
	fromB := make([]int, len(b))
	for i, c := range b {
		idx := out.Index(c)
		if idx < 0 {
			out = append(out, c)
			idx = len(out) - 1
		}
		fromB[i] = idx
	}
	return unionSchema{columns: out, fromA: fromA, fromB: fromB}
}

func (u *unionStream) Columns(j *job.Job) (Columns, error) {
	s, err := awaitFresh(j, u.schemaFuture)
	if err != nil {
		return nil, err
	}
	return s.columns, nil
}

func (u *unionStream) Fetch(j *job.Job) (Batch, error) {
	if j.IsCancelled() {
		return Batch{Status: Finished}, nil
	}
	schema, err := awaitFresh(j, u.schemaFuture)
	if err != nil {
		if errors.IsCancelled(err) {
			return Batch{Status: Finished}, nil
		}
		return Batch{}, err
	}

	u.mu.Lock()
	onB := u.onB
	u.mu.Unlock()

	if !onB {
		b, err := u.a.Fetch(j)
		if err != nil {
			return Batch{}, err
		}
		if j.IsCancelled() {
			return Batch{Status: Finished}, nil
		}
		if b.Status == Finished {
			u.mu.Lock()
			u.onB = true
			u.mu.Unlock()
		}
		return Batch{Rows: project(b.Rows, schema.fromA, len(schema.columns)), Status: HasMore}, nil
	}

	b, err := u.b.Fetch(j)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Rows: project(b.Rows, schema.fromB, len(schema.columns)), Status: b.Status}, nil
}

func project(rows []Tuple, positions []int, width int) []Tuple {
	out := make([]Tuple, len(rows))
	for i, row := range rows {
		t := make(Tuple, width)
		for src, dst := range positions {
			if src < len(row) {
				t[dst] = row[src]
			}
		}
		out[i] = t
	}
	return out
}

func (u *unionStream) Clone() Stream { return Union(u.a.Clone(), u.b.Clone()) }
