package migration

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes this service instance and the peers it can migrate
// sessions to, loaded from services.yaml.
type Config struct {
	Service        ServiceInfo   `yaml:"service"`
	Peers          []ServiceInfo `yaml:"peers"`
	TimeoutSeconds int           `yaml:"migration_timeout_seconds"`
}

func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("services.yaml: %w", err)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = int(DefaultTimeout / time.Second)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("services.yaml: %w", err)
	}
	return cfg, nil
}

// MigrationTimeout is the shared TTL for both migration guard keys.
func (c Config) MigrationTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	seen := map[string]bool{c.Service.Name: true}
	for _, p := range c.Peers {
		if p.Name == "" || p.Host == "" || p.Port == 0 {
			return fmt.Errorf("peer %q: name, host and port are required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate service name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Peer returns the addressing info for a named peer service.
func (c Config) Peer(name string) (ServiceInfo, bool) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return ServiceInfo{}, false
}
