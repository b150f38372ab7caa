package step

import (
	"strings"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/stream"
)

const defaultMaxDummies = 32

// dummiesStep one-hot encodes a column: one 0/1 column per distinct value.
// Deriving the schema scans a clone of the upstream once per stream.
type dummiesStep struct {
	base
	column    stream.Column
	prefix    string
	maxValues int
}

func newDummiesStep(b base, cfg DummiesConfig) *dummiesStep {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = cfg.Column + "_"
	}
	maxValues := cfg.MaxValues
	if maxValues <= 0 {
		maxValues = defaultMaxDummies
	}
	return &dummiesStep{base: b, column: stream.Column(cfg.Column), prefix: prefix, maxValues: maxValues}
}

func (s *dummiesStep) Apply(_ *job.Job, upstream stream.Stream) (stream.Stream, error) {
	return stream.NewTransformer(upstream, s), nil
}

// OutputColumns appends one column per distinct non-empty value, in order of
// first appearance.
func (s *dummiesStep) OutputColumns(j *job.Job, source stream.Stream, upstream stream.Columns) (stream.Columns, error) {
	idx := upstream.Index(s.column)
	if idx < 0 {
		return nil, errors.UnknownColumn(string(s.column))
	}
	out := append(stream.Columns(nil), upstream...)
	seen := make(map[string]bool)
	err := stream.Drain(j, source.Clone(), func(rows []stream.Tuple) error {
		for _, row := range rows {
			if len(seen) >= s.maxValues {
				return nil
			}
			v := row[idx]
			if v.IsEmpty() || v.IsInvalid() {
				continue
			}
			name := v.String()
			if seen[name] {
				continue
			}
			seen[name] = true
			if col := stream.Column(s.prefix + name); !out.Contains(col) {
				out = append(out, col)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *dummiesStep) TransformRows(_ *job.Job, upstream, output stream.Columns, rows []stream.Tuple) ([]stream.Tuple, error) {
	idx := upstream.Index(s.column)
	dummies := output[len(upstream):]
	res := make([]stream.Tuple, len(rows))
	for i, row := range rows {
		t := make(stream.Tuple, len(output))
		copy(t, row)
		name, ok := dummyName(row[idx])
		for k, col := range dummies {
			hit := int64(0)
			if ok && strings.TrimPrefix(string(col), s.prefix) == name {
				hit = 1
			}
			t[len(upstream)+k] = stream.Int(hit)
		}
		res[i] = t
	}
	return res, nil
}

func dummyName(v stream.Value) (string, bool) {
	if v.IsEmpty() || v.IsInvalid() {
		return "", false
	}
	return v.String(), true
}
