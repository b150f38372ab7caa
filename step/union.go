package step

import (
	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/stream"
)

// unionStep appends the rows of another chain. The chain is looked up by id
// on every Apply so that replacing it in the registry takes effect.
type unionStep struct {
	base
	chain    string
	registry *Registry
}

func newUnionStep(b base, chain string, env Env) (*unionStep, error) {
	if env.Registry == nil {
		return nil, errors.InvalidConfig("union", "no chain registry configured")
	}
	return &unionStep{base: b, chain: chain, registry: env.Registry}, nil
}

// References returns the id of the chain this step reads from.
func (s *unionStep) References() string { return s.chain }

func (s *unionStep) Apply(j *job.Job, upstream stream.Stream) (stream.Stream, error) {
	other, err := s.registry.Get(s.chain)
	if err != nil {
		return nil, err
	}
	rows, err := other.Stream(j)
	if err != nil {
		return nil, err
	}
	return stream.Union(upstream, rows), nil
}
