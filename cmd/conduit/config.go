package main

import (
	"fmt"

	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/config"
	"github.com/kbukum/conduit/httpfetch"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/server"
	"github.com/kbukum/conduit/step"
	"github.com/kbukum/conduit/validation"
)

const serviceName = "conduit"

// Config is the conduit.yml layout.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Engine        step.Defaults          `yaml:"engine" mapstructure:"engine"`
	Cache         cachestore.Config      `yaml:"cache" mapstructure:"cache"`
	Fetch         httpfetch.Config       `yaml:"fetch" mapstructure:"fetch"`
	Server        server.Config          `yaml:"server" mapstructure:"server"`
	Observability observability.Config   `yaml:"observability" mapstructure:"observability"`
	Chains        []step.ChainDefinition `yaml:"chains" mapstructure:"chains"`
}

// ApplyDefaults fills every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Engine.ApplyDefaults()
	c.Cache.ApplyDefaults()
	c.Fetch.ApplyDefaults()
	c.Server.ApplyDefaults()
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
}

// Validate checks every section. Chain definitions are checked in full when
// the chains are loaded.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(&c.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.Validate(&c.Observability); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	return nil
}
