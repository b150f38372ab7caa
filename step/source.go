package step

import (
	"fmt"
	"math"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/stream"
)

// rasterStep emits an inline table.
type rasterStep struct {
	base
	raster    *stream.Raster
	batchSize int
}

func newRasterStep(b base, cfg *RasterConfig, env Env) (*rasterStep, error) {
	cols := stream.Names(cfg.Columns...)
	rows := make([]stream.Tuple, len(cfg.Rows))
	for i, raw := range cfg.Rows {
		if len(raw) > len(cols) {
			return nil, errors.InvalidConfig(fmt.Sprintf("raster.rows[%d]", i),
				fmt.Sprintf("has %d values for %d columns", len(raw), len(cols)))
		}
		row := make(stream.Tuple, len(cols))
		for k, x := range raw {
			v, err := stream.FromAny(x)
			if err != nil {
				return nil, errors.InvalidConfig(fmt.Sprintf("raster.rows[%d][%d]", i, k), err.Error())
			}
			row[k] = v
		}
		rows[i] = row
	}
	return &rasterStep{
		base:      b,
		raster:    stream.NewRaster(cols, rows...),
		batchSize: env.Defaults.BatchSize,
	}, nil
}

func (s *rasterStep) Apply(*job.Job, stream.Stream) (stream.Stream, error) {
	return stream.NewRasterStream(s.raster, s.batchSize), nil
}

// sequenceStep generates an arithmetic integer sequence.
type sequenceStep struct {
	base
	cfg       SequenceConfig
	batchSize int
}

func newSequenceStep(b base, cfg SequenceConfig, env Env) *sequenceStep {
	if cfg.Step == 0 {
		cfg.Step = 1
		if cfg.From > cfg.To {
			cfg.Step = -1
		}
	}
	batch := env.Defaults.BatchSize
	if batch <= 0 {
		batch = stream.DefaultBatchSize
	}
	return &sequenceStep{base: b, cfg: cfg, batchSize: batch}
}

func (s *sequenceStep) Apply(*job.Job, stream.Stream) (stream.Stream, error) {
	return &sequenceStream{cfg: s.cfg, batchSize: s.batchSize, next: s.cfg.From}, nil
}

type sequenceStream struct {
	cfg       SequenceConfig
	batchSize int
	next      int64
	done      bool
}

func (s *sequenceStream) Columns(*job.Job) (stream.Columns, error) {
	return stream.Names(s.cfg.Column), nil
}

func (s *sequenceStream) inRange(v int64) bool {
	if s.cfg.Step > 0 {
		return v <= s.cfg.To
	}
	return v >= s.cfg.To
}

func (s *sequenceStream) Fetch(j *job.Job) (stream.Batch, error) {
	if j.IsCancelled() || s.done {
		return stream.Batch{Status: stream.Finished}, nil
	}
	rows := make([]stream.Tuple, 0, s.batchSize)
	for len(rows) < s.batchSize && !s.done {
		if !s.inRange(s.next) {
			s.done = true
			break
		}
		rows = append(rows, stream.Tuple{stream.Int(s.next)})
		s.done = !s.advance()
	}
	if s.done || !s.inRange(s.next) {
		s.done = true
		return stream.Batch{Rows: rows, Status: stream.Finished}, nil
	}
	return stream.Batch{Rows: rows, Status: stream.HasMore}, nil
}

// advance moves to the next value. It reports false when that value is not
// representable as an int64.
func (s *sequenceStream) advance() bool {
	step := s.cfg.Step
	if (step > 0 && s.next > math.MaxInt64-step) || (step < 0 && s.next < math.MinInt64-step) {
		return false
	}
	s.next += step
	return true
}

func (s *sequenceStream) Clone() stream.Stream {
	return &sequenceStream{cfg: s.cfg, batchSize: s.batchSize, next: s.cfg.From}
}

// limitStep keeps the first rows of its upstream.
type limitStep struct {
	base
	count int
}

func (s *limitStep) Apply(_ *job.Job, upstream stream.Stream) (stream.Stream, error) {
	return stream.Limit(upstream, s.count), nil
}
