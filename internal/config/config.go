// Package config loads leostore settings from the environment
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/nainya/leostore/pkg/document"
	"github.com/nainya/leostore/pkg/storage"
)

// Prefix is prepended to every variable name, e.g. LEO_DB_PATH.
const Prefix = "LEO"

// Config holds all service configuration.
type Config struct {
	DBPath   string `envconfig:"DB_PATH" default:"leostore.db"`
	DBMemory bool   `envconfig:"DB_MEMORY" default:"false"` // keep documents in memory only

	ParserPath string `envconfig:"PARSER"`
	Workers    int    `envconfig:"WORKERS" default:"0"` // 0 means GOMAXPROCS

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	GrpcPort    int `envconfig:"GRPC_PORT" default:"50051"`
	MetricsPort int `envconfig:"METRICS_PORT" default:"9090"`

	// Classes maps class name to policy, e.g. "masterclass:persistent,schedule:unsteady".
	Classes map[string]string `envconfig:"CLASSES" default:"masterclass:persistent"`
	Class   string            `envconfig:"CLASS" default:"masterclass"`

	// Mapping projects content paths of the default class onto columns, e.g. "teacher.name:teacher".
	Mapping map[string]string `envconfig:"MAPPING"`
}

// Load reads configuration from LEO_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the settings are usable together.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if _, ok := c.Classes[c.Class]; !ok {
		return fmt.Errorf("config: default class %q is not declared in classes", c.Class)
	}
	for name, policy := range c.Classes {
		if _, err := document.ParsePolicy(policy); err != nil {
			return fmt.Errorf("config: class %q: %w", name, err)
		}
	}
	return nil
}

// DocumentClass returns the class definition for name. The mapping applies to the default class only.
func (c *Config) DocumentClass(name string) (document.Class, error) {
	raw, ok := c.Classes[name]
	if !ok {
		return document.Class{}, fmt.Errorf("config: unknown class %q", name)
	}
	policy, err := document.ParsePolicy(raw)
	if err != nil {
		return document.Class{}, fmt.Errorf("config: class %q: %w", name, err)
	}
	class := document.Class{Name: name, Policy: policy}
	if name == c.Class {
		class.Mapping = c.Mapping
	}
	return class, nil
}

// OpenKV opens the configured storage backend.
func (c *Config) OpenKV() (storage.KV, error) {
	if c.DBMemory {
		return storage.NewMemoryKV(), nil
	}
	return storage.OpenSQLite(c.DBPath)
}
