package step

import (
	"fmt"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/validation"
)

// Definition is the declarative configuration of one step. Exactly the block
// matching Kind is read; the others must be absent.
type Definition struct {
	ID   string `mapstructure:"id" json:"id" validate:"required,identifier"`
	Kind Kind   `mapstructure:"kind" json:"kind" validate:"required,oneof=raster sequence crawl dummies limit union cache"`

	Raster   *RasterConfig   `mapstructure:"raster" json:"raster,omitempty" validate:"required_if=Kind raster"`
	Sequence *SequenceConfig `mapstructure:"sequence" json:"sequence,omitempty" validate:"required_if=Kind sequence"`
	Crawl    *CrawlConfig    `mapstructure:"crawl" json:"crawl,omitempty" validate:"required_if=Kind crawl"`
	Dummies  *DummiesConfig  `mapstructure:"dummies" json:"dummies,omitempty" validate:"required_if=Kind dummies"`
	Limit    *LimitConfig    `mapstructure:"limit" json:"limit,omitempty" validate:"required_if=Kind limit"`
	Union    *UnionConfig    `mapstructure:"union" json:"union,omitempty" validate:"required_if=Kind union"`
	Cache    *CacheConfig    `mapstructure:"cache" json:"cache,omitempty"`
}

// RasterConfig is an inline table.
type RasterConfig struct {
	Columns []string `mapstructure:"columns" json:"columns" validate:"required,min=1,unique,dive,required"`
	Rows    [][]any  `mapstructure:"rows" json:"rows"`
}

// SequenceConfig generates the integers From, From+Step, ... up to and
// including To.
type SequenceConfig struct {
	Column string `mapstructure:"column" json:"column" validate:"required"`
	From   int64  `mapstructure:"from" json:"from"`
	To     int64  `mapstructure:"to" json:"to"`
	Step   int64  `mapstructure:"step" json:"step"`
}

// CrawlConfig fetches the URL found in each row. At least one target column
// must be set; target columns replace upstream columns of the same name.
type CrawlConfig struct {
	URLColumn          string `mapstructure:"url_column" json:"url_column" validate:"required"`
	BodyColumn         string `mapstructure:"body_column" json:"body_column,omitempty"`
	StatusColumn       string `mapstructure:"status_column" json:"status_column,omitempty"`
	ErrorColumn        string `mapstructure:"error_column" json:"error_column,omitempty"`
	ResponseTimeColumn string `mapstructure:"response_time_column" json:"response_time_column,omitempty"`
	MaxConcurrent      int    `mapstructure:"max_concurrent" json:"max_concurrent,omitempty" validate:"gte=0,lte=1024"`
	MaxPerSecond       int    `mapstructure:"max_per_second" json:"max_per_second,omitempty" validate:"gte=0"`
}

func (c *CrawlConfig) targets() []string {
	var out []string
	for _, col := range []string{c.BodyColumn, c.StatusColumn, c.ErrorColumn, c.ResponseTimeColumn} {
		if col != "" {
			out = append(out, col)
		}
	}
	return out
}

// DummiesConfig one-hot encodes the distinct values of a column.
type DummiesConfig struct {
	Column    string `mapstructure:"column" json:"column" validate:"required"`
	Prefix    string `mapstructure:"prefix" json:"prefix,omitempty"`
	MaxValues int    `mapstructure:"max_values" json:"max_values,omitempty" validate:"gte=0"`
}

// LimitConfig keeps the first Count rows.
type LimitConfig struct {
	Count int `mapstructure:"count" json:"count" validate:"gte=0"`
}

// UnionConfig appends the rows of another chain, referenced by id.
type UnionConfig struct {
	Chain string `mapstructure:"chain" json:"chain" validate:"required,identifier"`
}

// CacheConfig persists the upstream dataset.
type CacheConfig struct {
	BatchSize int `mapstructure:"batch_size" json:"batch_size,omitempty" validate:"gte=0"`
}

// Validate checks the definition's shape and cross-field rules.
func (d *Definition) Validate() error {
	if err := validation.Validate(d); err != nil {
		return err
	}
	v := validation.New()
	blocks := map[Kind]bool{
		KindRaster:   d.Raster != nil,
		KindSequence: d.Sequence != nil,
		KindCrawl:    d.Crawl != nil,
		KindDummies:  d.Dummies != nil,
		KindLimit:    d.Limit != nil,
		KindUnion:    d.Union != nil,
		KindCache:    d.Cache != nil,
	}
	for _, kind := range Kinds {
		set := blocks[kind]
		v.Custom(!set || kind == d.Kind, string(kind), fmt.Sprintf("must not be set on a %s step", d.Kind))
	}
	switch d.Kind {
	case KindSequence:
		v.Custom(d.Sequence.Step >= 0 || d.Sequence.From >= d.Sequence.To, "sequence.step", "must be positive when from < to")
	case KindCrawl:
		targets := d.Crawl.targets()
		v.Custom(len(targets) > 0, "crawl", "at least one target column is required")
		v.Distinct("crawl", targets)
	}
	if err := v.Err(); err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return appErr.WithDetail("step", d.ID)
		}
		return err
	}
	return nil
}

// Build validates def and creates the step it describes. fingerprint
// identifies the chain configuration up to and including def; a cache step
// stores its dataset under fingerprint + "/" + def.ID.
func Build(def Definition, env Env, fingerprint string) (Step, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	b := base{id: def.ID, kind: def.Kind}
	switch def.Kind {
	case KindRaster:
		return newRasterStep(b, def.Raster, env)
	case KindSequence:
		return newSequenceStep(b, *def.Sequence, env), nil
	case KindCrawl:
		return newCrawlStep(b, *def.Crawl, env)
	case KindDummies:
		return newDummiesStep(b, *def.Dummies), nil
	case KindLimit:
		return &limitStep{base: b, count: def.Limit.Count}, nil
	case KindUnion:
		return newUnionStep(b, def.Union.Chain, env)
	case KindCache:
		cfg := CacheConfig{}
		if def.Cache != nil {
			cfg = *def.Cache
		}
		return newCacheStep(b, cfg, env, fingerprint)
	}
	return nil, errors.InvalidConfig("kind", fmt.Sprintf("unknown step kind %q", def.Kind))
}
