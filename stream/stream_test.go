package stream

import (
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
)

func intRaster(n int) *Raster {
	r := NewRaster(Names("n"))
	for i := 0; i < n; i++ {
		r.Rows = append(r.Rows, Tuple{Int(int64(i))})
	}
	return r
}

func newJob() *job.Job { return job.New(job.PriorityUserInitiated) }

func TestRasterStream_Batches(t *testing.T) {
	s := NewRasterStream(intRaster(5), 2)
	j := newJob()

	var sizes []int
	var statuses []Status
	for {
		b, err := s.Fetch(j)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sizes = append(sizes, len(b.Rows))
		statuses = append(statuses, b.Status)
		if b.Status == Finished {
			break
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("expected batches of 2,2,1, got %v", sizes)
	}
	if statuses[0] != HasMore || statuses[2] != Finished {
		t.Errorf("unexpected statuses %v", statuses)
	}

	b, err := s.Fetch(j)
	if err != nil || len(b.Rows) != 0 || b.Status != Finished {
		t.Errorf("expected empty finished batch after the end, got %+v (err=%v)", b, err)
	}
}

func TestRasterStream_CloneIsIndependent(t *testing.T) {
	s := NewRasterStream(intRaster(4), 2)
	j := newJob()
	if _, err := s.Fetch(j); err != nil {
		t.Fatal(err)
	}
	r, err := Collect(j, s.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 4 {
		t.Errorf("expected clone to start from the beginning, got %d rows", r.Len())
	}
}

func TestFetch_CancelledJobYieldsNoRows(t *testing.T) {
	j := newJob()
	j.Cancel()
	streams := map[string]Stream{
		"raster":   NewRasterStream(intRaster(3), 1),
		"limit":    Limit(NewRasterStream(intRaster(3), 1), 2),
		"filter":   Filter(NewRasterStream(intRaster(3), 1), func(Columns, Tuple) bool { return true }),
		"union":    Union(NewRasterStream(intRaster(3), 1), NewRasterStream(intRaster(3), 1)),
		"prefetch": Prefetch(NewRasterStream(intRaster(3), 1), 2),
	}
	for name, s := range streams {
		t.Run(name, func(t *testing.T) {
			b, err := s.Fetch(j)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(b.Rows) != 0 || b.Status != Finished {
				t.Errorf("expected empty finished batch, got %+v", b)
			}
		})
	}
}

func TestCollect_ReportsCancellation(t *testing.T) {
	j := newJob()
	j.Cancel()
	_, err := Collect(j, NewRasterStream(intRaster(3), 1))
	if !errors.IsCancelled(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestDrain_PropagatesSourceFailure(t *testing.T) {
	boom := stderrors.New("boom")
	err := Drain(newJob(), Fail(boom), func([]Tuple) error { return nil })
	if !stderrors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestLimit(t *testing.T) {
	var fetches atomic.Int32
	src := &countingStream{Stream: NewRasterStream(intRaster(100), 10), fetches: &fetches}
	r, err := Collect(newJob(), Limit(src, 15))
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 15 {
		t.Errorf("expected 15 rows, got %d", r.Len())
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("expected the source to be fetched twice, got %d", got)
	}
}

type countingStream struct {
	Stream
	fetches *atomic.Int32
}

func (c *countingStream) Fetch(j *job.Job) (Batch, error) {
	c.fetches.Add(1)
	return c.Stream.Fetch(j)
}

func TestFilterAndMap(t *testing.T) {
	even := Filter(NewRasterStream(intRaster(10), 3), func(_ Columns, row Tuple) bool {
		n, _ := row[0].AsInt()
		return n%2 == 0
	})
	doubled := Map(even, Names("n", "double"), func(_ Columns, row Tuple) (Tuple, error) {
		n, _ := row[0].AsInt()
		return Tuple{row[0], Int(n * 2)}, nil
	})

	r, err := Collect(newJob(), doubled)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 5 {
		t.Fatalf("expected 5 rows, got %d", r.Len())
	}
	if len(r.Columns) != 2 || r.Columns[1] != "double" {
		t.Errorf("unexpected columns %v", r.Columns)
	}
	if v, _ := r.Rows[4][1].AsInt(); v != 16 {
		t.Errorf("expected 16, got %d", v)
	}
}

func TestMap_ErrorTerminatesStream(t *testing.T) {
	boom := stderrors.New("bad row")
	s := Map(NewRasterStream(intRaster(3), 1), Names("n"), func(Columns, Tuple) (Tuple, error) {
		return nil, boom
	})
	if _, err := Collect(newJob(), s); !stderrors.Is(err, boom) {
		t.Errorf("expected row error, got %v", err)
	}
}

type countingTransform struct {
	outputCalls atomic.Int32
	batches     atomic.Int32
}

func (c *countingTransform) OutputColumns(_ *job.Job, _ Stream, upstream Columns) (Columns, error) {
	c.outputCalls.Add(1)
	return append(append(Columns(nil), upstream...), "derived"), nil
}

func (c *countingTransform) TransformRows(_ *job.Job, _, output Columns, rows []Tuple) ([]Tuple, error) {
	c.batches.Add(1)
	out := make([]Tuple, len(rows))
	for i, row := range rows {
		t := make(Tuple, len(output))
		copy(t, row)
		t[len(output)-1] = Bool(true)
		out[i] = t
	}
	return out, nil
}

func TestTransformer_SchemaComputedOnce(t *testing.T) {
	tr := &countingTransform{}
	s := NewTransformer(NewRasterStream(intRaster(9), 3), tr)
	j := newJob()

	var seen []Columns
	for {
		cols, err := s.Columns(j)
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, cols)
		b, err := s.Fetch(j)
		if err != nil {
			t.Fatal(err)
		}
		if b.Status == Finished {
			break
		}
	}

	if got := tr.outputCalls.Load(); got != 1 {
		t.Errorf("expected output columns computed once, got %d", got)
	}
	if got := tr.batches.Load(); got != 3 {
		t.Errorf("expected 3 batches, got %d", got)
	}
	for _, cols := range seen {
		if len(cols) != 2 || cols[1] != "derived" {
			t.Errorf("expected stable derived schema, got %v", cols)
		}
	}
}

func TestTransformer_CloneRecomputesSchema(t *testing.T) {
	tr := &countingTransform{}
	s := NewTransformer(NewRasterStream(intRaster(2), 1), tr)
	j := newJob()
	if _, err := Collect(j, s); err != nil {
		t.Fatal(err)
	}
	r, err := Collect(j, s.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Errorf("expected clone to yield 2 rows, got %d", r.Len())
	}
	if got := tr.outputCalls.Load(); got != 2 {
		t.Errorf("expected fresh schema futures for the clone, got %d calls", got)
	}
}

func TestTransformer_SchemaFailure(t *testing.T) {
	boom := stderrors.New("no schema")
	s := NewTransformer(Fail(boom), &countingTransform{})
	if _, err := s.Columns(newJob()); !stderrors.Is(err, boom) {
		t.Errorf("expected schema error, got %v", err)
	}
	if _, err := s.Fetch(newJob()); !stderrors.Is(err, boom) {
		t.Errorf("expected every fetch to see the memoized failure, got %v", err)
	}
}

func TestUnion(t *testing.T) {
	a := NewRaster(Names("id", "name"), Tuple{Int(1), String("a")})
	b := NewRaster(Names("name", "score"), Tuple{String("b"), Double(0.5)}, Tuple{String("c"), Double(1)})

	r, err := Collect(newJob(), Union(NewRasterStream(a, 0), NewRasterStream(b, 1)))
	if err != nil {
		t.Fatal(err)
	}
	want := Names("id", "name", "score")
	if len(r.Columns) != len(want) {
		t.Fatalf("expected columns %v, got %v", want, r.Columns)
	}
	for i := range want {
		if r.Columns[i] != want[i] {
			t.Fatalf("expected columns %v, got %v", want, r.Columns)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", r.Len())
	}
	if !r.Rows[0][2].IsEmpty() {
		t.Errorf("expected empty score for a's row, got %v", r.Rows[0][2])
	}
	if !r.Rows[1][0].IsEmpty() || !r.Rows[1][1].Equal(String("b")) {
		t.Errorf("unexpected projected row %v", r.Rows[1])
	}
}

func TestPrefetch(t *testing.T) {
	r, err := Collect(newJob(), Prefetch(NewRasterStream(intRaster(50), 7), 3))
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 50 {
		t.Errorf("expected 50 rows, got %d", r.Len())
	}
	for i, row := range r.Rows {
		if n, _ := row[0].AsInt(); n != int64(i) {
			t.Fatalf("expected order to be preserved, row %d is %d", i, n)
		}
	}
}

type blockingStream struct {
	columns Columns
}

func (b blockingStream) Columns(*job.Job) (Columns, error) { return b.columns, nil }

func (b blockingStream) Fetch(j *job.Job) (Batch, error) {
	<-j.Context().Done()
	return Batch{Status: Finished}, nil
}

func (b blockingStream) Clone() Stream { return b }

func TestPrefetch_StopsOnCancel(t *testing.T) {
	j := newJob()
	s := Prefetch(blockingStream{columns: Names("x")}, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		j.Cancel()
	}()
	done := make(chan error, 1)
	go func() { done <- Drain(j, s, func([]Tuple) error { return nil }) }()
	select {
	case err := <-done:
		if !errors.IsCancelled(err) {
			t.Errorf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after cancellation")
	}
}

func TestEmpty(t *testing.T) {
	r, err := Collect(newJob(), Empty(Names("a")))
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 || len(r.Columns) != 1 {
		t.Errorf("unexpected raster %+v", r)
	}
}

func TestRaster_Column(t *testing.T) {
	r := intRaster(3)
	vals, ok := r.Column("n")
	if !ok || len(vals) != 3 {
		t.Fatalf("expected 3 values, got %v (ok=%v)", vals, ok)
	}
	if _, ok := r.Column("missing"); ok {
		t.Error("expected missing column to be reported")
	}
}
