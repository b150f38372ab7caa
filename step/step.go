package step

import (
	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/httpfetch"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/stream"
)

// Kind names a step type.
type Kind string

const (
	KindRaster   Kind = "raster"
	KindSequence Kind = "sequence"
	KindCrawl    Kind = "crawl"
	KindDummies  Kind = "dummies"
	KindLimit    Kind = "limit"
	KindUnion    Kind = "union"
	KindCache    Kind = "cache"
)

// Kinds lists every supported step kind.
var Kinds = []Kind{KindRaster, KindSequence, KindCrawl, KindDummies, KindLimit, KindUnion, KindCache}

// Step is one transformation in a chain. Apply composes the step onto the
// stream produced by the steps before it; source steps ignore upstream.
type Step interface {
	ID() string
	Kind() Kind
	Apply(j *job.Job, upstream stream.Stream) (stream.Stream, error)
}

// Invalidator is implemented by steps holding derived state that must be
// rebuilt after an upstream edit.
type Invalidator interface {
	Invalidate()
}

// Closer is implemented by steps owning resources beyond the chain's lifetime.
type Closer interface {
	Close() error
}

// Defaults are engine-wide settings steps fall back to.
type Defaults struct {
	BatchSize     int `mapstructure:"batch_size" validate:"gte=0"`
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=0"`
	MaxPerSecond  int `mapstructure:"max_per_second" validate:"gte=0"`
}

// ApplyDefaults fills in zero-valued fields.
func (d *Defaults) ApplyDefaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = stream.DefaultBatchSize
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = 8
	}
}

// Env carries the collaborators steps are built with.
type Env struct {
	Registry *Registry
	Store    *cachestore.Store
	Fetcher  httpfetch.Fetcher
	Defaults Defaults
	Log      *logger.Logger

	// definitions holds the chains of a LoadChains call that may not be
	// registered yet.
	definitions map[string]ChainDefinition
}

// definition looks up the configuration of chain id.
func (e Env) definition(id string) (ChainDefinition, bool) {
	if def, ok := e.definitions[id]; ok {
		return def, true
	}
	if e.Registry == nil {
		return ChainDefinition{}, false
	}
	c, err := e.Registry.Get(id)
	if err != nil {
		return ChainDefinition{}, false
	}
	return c.Definition(), true
}

func (e Env) logger() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.GetGlobalLogger()
}

type base struct {
	id   string
	kind Kind
}

func (b base) ID() string { return b.id }

func (b base) Kind() Kind { return b.kind }
