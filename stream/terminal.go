package stream

import (
	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/observability"
)

// Sink receives the rows of each fetched batch.
type Sink func(rows []Tuple) error

// Drain fetches s to the end and hands every non-empty batch to sink. It
// returns errors.ErrCancelled when j is cancelled before the stream finishes.
func Drain(j *job.Job, s Stream, sink Sink) error {
	metrics := observability.Engine()
	for {
		b, err := s.Fetch(j)
		if err != nil {
			return err
		}
		if j.IsCancelled() {
			return errors.Cancelled("drain")
		}
		if len(b.Rows) > 0 {
			metrics.StreamRows(j.Context(), len(b.Rows))
			if err := sink(b.Rows); err != nil {
				return err
			}
		}
		if b.Status == Finished {
			return nil
		}
	}
}

// Collect drains s into a raster.
func Collect(j *job.Job, s Stream) (*Raster, error) {
	cols, err := s.Columns(j)
	if err != nil {
		if j.IsCancelled() {
			return nil, errors.Cancelled("collect")
		}
		return nil, err
	}
	r := &Raster{Columns: cols}
	err = Drain(j, s, func(rows []Tuple) error {
		r.Rows = append(r.Rows, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
