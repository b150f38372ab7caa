package stream

import (
	"github.com/kbukum/conduit/job"
)

// DefaultBatchSize is the number of rows sources return per fetch unless
// configured otherwise.
const DefaultBatchSize = 256

// Column identifies a column of a stream.
type Column string

// Columns is the ordered schema of a stream.
type Columns []Column

// Index returns the position of c, or -1.
func (cs Columns) Index(c Column) int {
	for i, col := range cs {
		if col == c {
			return i
		}
	}
	return -1
}

// Contains reports whether c is part of the schema.
func (cs Columns) Contains(c Column) bool { return cs.Index(c) >= 0 }

// Strings returns the column names.
func (cs Columns) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// Names converts plain names into Columns.
func Names(names ...string) Columns {
	out := make(Columns, len(names))
	for i, n := range names {
		out[i] = Column(n)
	}
	return out
}

// Tuple is a row. Values align positionally with the stream's columns.
// Tuples handed out by a stream are shared and must not be modified.
type Tuple []Value

// Status tells a consumer whether more rows may follow a batch.
type Status int

const (
	// Finished means the stream has no more rows. It is the zero Status, so
	// an empty Batch is a finished one.
	Finished Status = iota
	// HasMore means further fetches may return rows.
	HasMore
)

func (s Status) String() string {
	if s == HasMore {
		return "has-more"
	}
	return "finished"
}

// Batch is the result of one fetch.
type Batch struct {
	Rows   []Tuple
	Status Status
}

// Stream is a pull-based source of row batches with a fixed schema.
//
// Columns blocks until the schema is known. Fetch blocks until the next batch
// is available; a cancelled job yields an empty finished batch, and after a
// finished batch or an error further fetches return empty finished batches.
// Clone returns an independent stream that starts from the beginning.
type Stream interface {
	Columns(j *job.Job) (Columns, error)
	Fetch(j *job.Job) (Batch, error)
	Clone() Stream
}

// Raster is an in-memory dataset.
type Raster struct {
	Columns Columns
	Rows    []Tuple
}

// NewRaster creates a raster from columns and rows.
func NewRaster(columns Columns, rows ...Tuple) *Raster {
	return &Raster{Columns: columns, Rows: rows}
}

// Len returns the number of rows.
func (r *Raster) Len() int { return len(r.Rows) }

// Column returns the values of one column, or false if it does not exist.
func (r *Raster) Column(c Column) ([]Value, bool) {
	idx := r.Columns.Index(c)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(r.Rows))
	for i, row := range r.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, true
}

type rasterStream struct {
	raster    *Raster
	batchSize int
	pos       int
}

// NewRasterStream streams the rows of r in batches of batchSize.
func NewRasterStream(r *Raster, batchSize int) Stream {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &rasterStream{raster: r, batchSize: batchSize}
}

func (s *rasterStream) Columns(*job.Job) (Columns, error) {
	return s.raster.Columns, nil
}

func (s *rasterStream) Fetch(j *job.Job) (Batch, error) {
	if j.IsCancelled() || s.pos >= len(s.raster.Rows) {
		return Batch{Status: Finished}, nil
	}
	end := min(s.pos+s.batchSize, len(s.raster.Rows))
	rows := s.raster.Rows[s.pos:end]
	s.pos = end

	status := HasMore
	if end >= len(s.raster.Rows) {
		status = Finished
	}
	return Batch{Rows: rows, Status: status}, nil
}

func (s *rasterStream) Clone() Stream {
	return &rasterStream{raster: s.raster, batchSize: s.batchSize}
}

type emptyStream struct {
	columns Columns
}

// Empty returns a stream with the given schema and no rows.
func Empty(columns Columns) Stream {
	return emptyStream{columns: columns}
}

func (s emptyStream) Columns(*job.Job) (Columns, error) { return s.columns, nil }

func (s emptyStream) Fetch(*job.Job) (Batch, error) { return Batch{Status: Finished}, nil }

func (s emptyStream) Clone() Stream { return s }

type failedStream struct {
	err error
}

// Fail returns a stream whose schema and rows both resolve to err.
func Fail(err error) Stream {
	return failedStream{err: err}
}

func (s failedStream) Columns(*job.Job) (Columns, error) { return nil, s.err }

func (s failedStream) Fetch(*job.Job) (Batch, error) { return Batch{}, s.err }

func (s failedStream) Clone() Stream { return s }
