package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/conduit/logger"
)

// EnvPrefix marks the environment variables that override config keys:
// CONDUIT_SERVER_PORT sets server.port.
const EnvPrefix = "CONDUIT_"

// FileSystem abstracts file lookups so the search can be tested.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// OSFileSystem is the FileSystem of the running process.
type OSFileSystem struct{}

// Exists reports whether path can be stat'ed.
func (OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads a dotenv file without overriding variables already set.
func (OSFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// LoaderConfig carries the loader options.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
	Environ    func() []string
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem replaces the file system used for lookups.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets the config file instead of searching for one.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets the dotenv file instead of searching for one.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnviron replaces os.Environ as the source of overrides.
func WithEnviron(environ func() []string) LoaderOption {
	return func(lc *LoaderConfig) { lc.Environ = environ }
}

// ConfigCandidates lists where LoadConfig looks for the config file of
// service, in order.
func ConfigCandidates(service string) []string {
	paths := []string{
		service + ".yml",
		service + ".yaml",
		filepath.Join("config", service+".yml"),
		filepath.Join("cmd", service, "config.yml"),
		"config.yml",
	}
	if home, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(home, service, "config.yml"))
	}
	return paths
}

// EnvCandidates lists where LoadConfig looks for a dotenv file, in order.
func EnvCandidates(service string) []string {
	return []string{".env." + service, ".env", filepath.Join("cmd", service, ".env")}
}

// LoadConfig reads the config file, applies the dotenv file and CONDUIT_
// environment overrides, and decodes the result into cfg with mapstructure
// tags. A missing config file is not an error; a malformed one is.
func LoadConfig(service string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: OSFileSystem{}, Environ: os.Environ}
	for _, opt := range opts {
		opt(&lc)
	}
	log := logger.Get("config")

	v := viper.New()
	if file := firstExisting(lc.FileSystem, lc.ConfigFile, ConfigCandidates(service)); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
		log.Debug("Config file loaded", logger.Fields("file", file))
	} else if lc.ConfigFile != "" {
		log.Warn("Config file not found", logger.Fields("file", lc.ConfigFile))
	}

	if file := firstExisting(lc.FileSystem, lc.EnvFile, EnvCandidates(service)); file != "" {
		if err := lc.FileSystem.LoadEnv(file); err != nil {
			log.Warn("Env file not loaded", logger.Fields("file", file, logger.FieldError, err.Error()))
		}
	}
	for _, kv := range lc.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		for _, variant := range envKeyVariants(strings.TrimPrefix(key, EnvPrefix)) {
			v.Set(variant, value)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config for %s: %w", service, err)
	}
	return nil
}

func firstExisting(fs FileSystem, explicit string, candidates []string) string {
	if explicit != "" {
		if fs.Exists(explicit) {
			return explicit
		}
		return ""
	}
	for _, p := range candidates {
		if fs.Exists(p) {
			return p
		}
	}
	return ""
}

// envKeyVariants maps an underscore-separated variable name onto the
// nested keys it may denote, since key segments may themselves contain
// underscores. SERVER_MAX_BODY_BYTES yields server_max_body_bytes,
// server.max_body_bytes, server.max.body_bytes, ... and server.max.body.bytes.
func envKeyVariants(name string) []string {
	parts := strings.Split(strings.ToLower(name), "_")
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	add(strings.Join(parts, "_"))
	for i := 1; i < len(parts); i++ {
		add(strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_"))
	}
	add(strings.Join(parts, "."))
	return out
}
