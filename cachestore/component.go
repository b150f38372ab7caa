package cachestore

import (
	"context"
	"fmt"

	"github.com/kbukum/conduit/component"
	"github.com/kbukum/conduit/logger"
)

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// Component manages the Store lifecycle within a component.Registry.
type Component struct {
	cfg   Config
	log   *logger.Logger
	store *Store
}

// NewComponent creates a cache store component. When cfg.Enabled is false
// the store lives in an in-memory SQLite database for the process lifetime.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	if !cfg.Enabled {
		cfg.DSN = "file::memory:?cache=shared"
		cfg.ConnMaxLifetime = "0s"
	}
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, log: log}
}

// Store returns the opened store, or nil before Start.
func (c *Component) Store() *Store { return c.store }

// Name returns the component name.
func (c *Component) Name() string { return "cachestore" }

// Start opens the store.
func (c *Component) Start(ctx context.Context) error {
	s, err := Open(ctx, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("cachestore start: %w", err)
	}
	c.store = s
	return nil
}

// Stop closes the store.
func (c *Component) Stop(context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Health pings the store.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	switch {
	case c.store == nil:
		h.Status = component.StatusUnhealthy
		h.Message = "cache store not opened"
	case c.store.Ping(ctx) != nil:
		h.Status = component.StatusUnhealthy
		h.Message = "ping failed"
	}
	return h
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	mode := "persistent"
	if !c.cfg.Enabled {
		mode = "in-memory"
	}
	return component.Description{
		Name:    "Cache Store",
		Type:    "cache",
		Details: fmt.Sprintf("sqlite %s (%s) batch=%d", c.cfg.DSN, mode, c.cfg.InsertBatchSize),
	}
}
