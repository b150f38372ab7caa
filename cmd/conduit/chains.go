package main

import (
	"context"
	"fmt"

	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/component"
	"github.com/kbukum/conduit/httpfetch"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/step"
)

// chainsComponent loads the configured chains once the cache store is open
// and closes them at shutdown. It serves the API through the api.Chains
// methods it forwards to the registry.
type chainsComponent struct {
	defs     []step.ChainDefinition
	defaults step.Defaults
	fetch    httpfetch.Config
	store    *cachestore.Component
	log      *logger.Logger

	registry *step.Registry
}

var (
	_ component.Component   = (*chainsComponent)(nil)
	_ component.Describable = (*chainsComponent)(nil)
)

func newChainsComponent(cfg *Config, store *cachestore.Component, log *logger.Logger) *chainsComponent {
	return &chainsComponent{
		defs:     cfg.Chains,
		defaults: cfg.Engine,
		fetch:    cfg.Fetch,
		store:    store,
		log:      log,
	}
}

func (c *chainsComponent) Name() string { return "chains" }

func (c *chainsComponent) Start(ctx context.Context) error {
	fetcher, err := httpfetch.New(c.fetch, c.log)
	if err != nil {
		return fmt.Errorf("fetch client: %w", err)
	}
	reg, err := step.LoadChains(c.defs, step.Env{
		Store:    c.store.Store(),
		Fetcher:  fetcher,
		Defaults: c.defaults,
		Log:      c.log,
	})
	if err != nil {
		return err
	}
	if _, err := reg.Prune(ctx); err != nil {
		c.log.Warn("Pruning stale datasets failed", logger.Fields(logger.FieldError, err.Error()))
	}
	c.registry = reg
	return nil
}

func (c *chainsComponent) Stop(context.Context) error {
	if c.registry == nil {
		return nil
	}
	return c.registry.Close()
}

func (c *chainsComponent) Health(context.Context) component.Health {
	if c.registry == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "chains not loaded"}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

func (c *chainsComponent) Describe() component.Description {
	return component.Description{
		Name:    "Chains",
		Type:    "engine",
		Details: fmt.Sprintf("%d chains, batch=%d, max_concurrent=%d", len(c.defs), c.defaults.BatchSize, c.defaults.MaxConcurrent),
	}
}

func (c *chainsComponent) Chains() []*step.Chain { return c.registry.Chains() }

func (c *chainsComponent) Get(id string) (*step.Chain, error) { return c.registry.Get(id) }

func (c *chainsComponent) Invalidate(id string) ([]string, error) { return c.registry.Invalidate(id) }
