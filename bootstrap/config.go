package bootstrap

import (
	"github.com/kbukum/conduit/config"
)

// Config constrains the App's config type. Structs embedding
// config.ServiceConfig satisfy it through promoted methods.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
