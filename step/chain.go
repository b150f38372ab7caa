package step

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/stream"
	"github.com/kbukum/conduit/validation"
)

// ChainDefinition is the configuration of a chain: an id and its steps in order.
type ChainDefinition struct {
	ID    string       `mapstructure:"id" json:"id" validate:"required,identifier"`
	Steps []Definition `mapstructure:"steps" json:"steps" validate:"required,min=1"`
}

// Validate checks the chain shape. Step blocks are validated when built.
func (d *ChainDefinition) Validate() error {
	if err := validation.Validate(d); err != nil {
		return err
	}
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return validation.New().Distinct("steps", ids).Err()
}

// Chain is an ordered list of steps. Every call to Stream composes a fresh
// stream, so concurrent readers never share iteration state.
type Chain struct {
	def   ChainDefinition
	steps []Step
	log   *logger.Logger
}

// NewChain builds every step of def.
func NewChain(def ChainDefinition, env Env) (*Chain, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	c := &Chain{
		def: def,
		log: env.logger().WithComponent("chain").WithFields(logger.Fields(logger.FieldChain, def.ID)),
	}
	fps := newFingerprinter(env, def.ID)
	for i, sd := range def.Steps {
		fp, err := fps.prefix(def, i+1)
		if err != nil {
			return nil, err
		}
		s, err := Build(sd, env, keyPrefix(def.ID)+fp)
		if err != nil {
			if appErr, ok := errors.AsAppError(err); ok {
				return nil, appErr.WithDetail("chain", def.ID)
			}
			return nil, err
		}
		c.steps = append(c.steps, s)
	}
	return c, nil
}

// keyPrefix starts the store key of every cache step of chain id.
func keyPrefix(chain string) string { return chain + "/" }

// fingerprinter hashes chain prefixes. A union contributes the fingerprint
// of the whole chain it reads from, so editing that chain changes the keys of
// every cache step downstream of the union.
type fingerprinter struct {
	env      Env
	visiting map[string]bool
	done     map[string]string
}

func newFingerprinter(env Env, chain string) *fingerprinter {
	return &fingerprinter{env: env, visiting: map[string]bool{chain: true}, done: make(map[string]string)}
}

// prefix returns the fingerprint of the first n steps of def.
func (f *fingerprinter) prefix(def ChainDefinition, n int) (string, error) {
	var sources map[string]string
	for _, sd := range def.Steps[:n] {
		if sd.Kind != KindUnion || sd.Union == nil {
			continue
		}
		fp, err := f.chain(sd.Union.Chain)
		if err != nil {
			return "", err
		}
		if sources == nil {
			sources = make(map[string]string)
		}
		sources[sd.Union.Chain] = fp
	}
	data, err := json.Marshal(struct {
		Chain   string            `json:"chain"`
		Steps   []Definition      `json:"steps"`
		Sources map[string]string `json:"sources,omitempty"`
	}{def.ID, def.Steps[:n], sources})
	if err != nil {
		return "", errors.InvalidConfig("steps", fmt.Sprintf("not encodable: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// chain returns the fingerprint of the whole chain id. Unknown chains and
// cycles hash as empty; the registry rejects both.
func (f *fingerprinter) chain(id string) (string, error) {
	if fp, ok := f.done[id]; ok {
		return fp, nil
	}
	def, ok := f.env.definition(id)
	if !ok || f.visiting[id] {
		return "", nil
	}
	f.visiting[id] = true
	fp, err := f.prefix(def, len(def.Steps))
	delete(f.visiting, id)
	if err != nil {
		return "", err
	}
	f.done[id] = fp
	return fp, nil
}

// ID returns the chain id.
func (c *Chain) ID() string { return c.def.ID }

// Definition returns the configuration the chain was built from.
func (c *Chain) Definition() ChainDefinition { return c.def }

// Steps returns the built steps in order.
func (c *Chain) Steps() []Step { return c.steps }

// References returns the ids of the chains this chain reads from.
func (c *Chain) References() []string {
	var refs []string
	for _, s := range c.steps {
		if u, ok := s.(*unionStep); ok {
			refs = append(refs, u.References())
		}
	}
	return refs
}

// Stream composes the chain's steps into a stream.
func (c *Chain) Stream(j *job.Job) (stream.Stream, error) {
	var s stream.Stream = stream.Empty(nil)
	for _, st := range c.steps {
		next, err := st.Apply(j, s)
		if err != nil {
			return nil, err
		}
		s = next
	}
	return s, nil
}

// Columns resolves the output schema.
func (c *Chain) Columns(j *job.Job) (stream.Columns, error) {
	s, err := c.Stream(j)
	if err != nil {
		return nil, err
	}
	return s.Columns(j)
}

// Preview collects at most limit rows; limit <= 0 collects everything.
func (c *Chain) Preview(j *job.Job, limit int) (*stream.Raster, error) {
	return c.PreviewShaped(j, limit, nil)
}

// PreviewShaped is Preview with shape applied to the chain's output before
// the limit is taken. A nil shape leaves the output as is.
func (c *Chain) PreviewShaped(j *job.Job, limit int, shape func(stream.Stream) stream.Stream) (*stream.Raster, error) {
	s, err := c.Stream(j)
	if err != nil {
		return nil, err
	}
	if shape != nil {
		s = shape(s)
	}
	if limit > 0 {
		s = stream.Limit(s, limit)
	}
	r, err := stream.Collect(j, s)
	if err != nil {
		return nil, err
	}
	c.log.WithJob(j.ID().String()).Debug("Preview collected", logger.Fields(logger.FieldRows, r.Len()))
	return r, nil
}

// Invalidate evicts the derived state of every step.
func (c *Chain) Invalidate() {
	for _, s := range c.steps {
		if inv, ok := s.(Invalidator); ok {
			inv.Invalidate()
		}
	}
}

// Close stops the background work of the chain's steps. Persisted copies
// are kept so that a later run can reuse them.
func (c *Chain) Close() error {
	for _, s := range c.steps {
		if cs, ok := s.(*cacheStep); ok {
			cs.release()
		}
	}
	return nil
}

// retire closes the chain for good on behalf of next, which replaces it, or
// nil when the chain is removed. Persisted copies next also uses are kept.
func (c *Chain) retire(next *Chain) error {
	keep := make(map[string]bool)
	if next != nil {
		for _, s := range next.steps {
			if cs, ok := s.(*cacheStep); ok {
				keep[cs.Key()] = true
			}
		}
	}
	var errs []error
	for _, s := range c.steps {
		if cs, ok := s.(*cacheStep); ok && keep[cs.Key()] {
			cs.release()
			continue
		}
		if cl, ok := s.(Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("step %s: %w", s.ID(), err))
			}
		}
	}
	return stderrors.Join(errs...)
}
