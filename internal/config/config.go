// Package config handles configuration loading and validation for idclaim.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFS   = "fs"
	BackendHTTP = "http"
)

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"`    // "fs" (shared data directory) or "http" (namespace server)
	Path      string `yaml:"path"`       // fs: data directory (default: /var/lib/idclaim)
	Endpoint  string `yaml:"endpoint"`   // http: namespace server URL
	AuthToken string `yaml:"auth_token"` // http: bearer token (optional)
}

// ServerConfig holds configuration for the namespace server.
type ServerConfig struct {
	Listen    string `yaml:"listen"`     // Listen address (default: ":8470")
	AuthToken string `yaml:"auth_token"` // Bearer token required from clients (optional)
	DataDir   string `yaml:"data_dir"`   // Data directory (default: /var/lib/idclaim)
	Audit     bool   `yaml:"audit"`      // Log an audit trail of namespace mutations
}

// LokiConfig configures optional log shipping to Grafana Loki.
type LokiConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`            // Loki push URL (e.g., "http://loki.internal:3100")
	BatchSize     int    `yaml:"batch_size"`     // Max entries per push (default: 100)
	FlushInterval string `yaml:"flush_interval"` // Flush interval as a duration string (default: "5s")
}

// Config is the top-level idclaim configuration.
type Config struct {
	InstanceName string       `yaml:"instance_name"` // Written into claim records (default: host-<short uuid>)
	Namespace    string       `yaml:"namespace"`     // Shared claim namespace (default: "instance-ids")
	Store        StoreConfig  `yaml:"store"`
	Server       ServerConfig `yaml:"server"`
	Loki         LokiConfig   `yaml:"loki"`
}

// Load loads configuration from a YAML file. An empty path yields a config
// with defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InstanceName == "" {
		c.InstanceName = defaultInstanceName()
	}
	if c.Namespace == "" {
		c.Namespace = "instance-ids"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFS
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/idclaim"
	}
	c.Store.Path = expandHome(c.Store.Path)

	if c.Server.Listen == "" {
		c.Server.Listen = ":8470"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "/var/lib/idclaim"
	}
	c.Server.DataDir = expandHome(c.Server.DataDir)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendFS:
	case BackendHTTP:
		if c.Store.Endpoint == "" {
			return fmt.Errorf("store.endpoint is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Loki.Enabled && c.Loki.URL == "" {
		return fmt.Errorf("loki.url is required when loki.enabled is set")
	}
	return nil
}

// defaultInstanceName derives a name unique enough to tell instances apart
// in record metadata: hostname plus a short random suffix.
func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}

// expandHome expands a leading ~/ in a path.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
