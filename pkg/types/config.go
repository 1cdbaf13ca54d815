// Package types holds configuration and wire-level value types shared
// across the registry.
package types

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RequestHeaders is a plain header map passed to the upstream client.
type RequestHeaders map[string]string

// ConfigFile is the registry's runtime configuration. It can be loaded
// from a YAML file and is then overlaid with environment variables per
// the table in the spec (env wins over file).
type ConfigFile struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	UpstreamRegistry string        `yaml:"upstream_registry"`
	DatabaseURL      string        `yaml:"database_url"`
	CacheDir         string        `yaml:"cache_dir"`
	CacheEnabled     bool          `yaml:"cache_enabled"`
	CacheTTL         time.Duration `yaml:"-"`
	CacheTTLHours    float64       `yaml:"cache_ttl_hours"`
	RequestTimeout   time.Duration `yaml:"-"`
}

// Default returns the configuration defaults from spec.md §6.
func Default() ConfigFile {
	return ConfigFile{
		Host:             "127.0.0.1",
		Port:             8000,
		UpstreamRegistry: "https://registry.npmjs.org",
		DatabaseURL:      "./data/registry.db",
		CacheDir:         "./data",
		CacheEnabled:     true,
		CacheTTLHours:    24,
		CacheTTL:         24 * time.Hour,
		RequestTimeout:   60 * time.Second,
	}
}

// Load reads cfgFile (if non-empty and present) and then overlays
// environment variables. A malformed config file is a fatal startup
// error, same as the teacher's fail-fast Load.
func (c *ConfigFile) Load(cfgFile string) error {
	*c = Default()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			raw, err := os.ReadFile(filepath.Clean(cfgFile))
			if err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(raw, c); err != nil {
				return fmt.Errorf("unmarshal config file: %w", err)
			}
		}
	}

	c.applyEnv()
	c.CacheTTL = time.Duration(c.CacheTTLHours * float64(time.Hour))
	return nil
}

func (c *ConfigFile) applyEnv() {
	if v, ok := os.LookupEnv("HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v, ok := os.LookupEnv("UPSTREAM_REGISTRY"); ok {
		c.UpstreamRegistry = strings.TrimSuffix(v, "/")
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := os.LookupEnv("CACHE_ENABLED"); ok {
		c.CacheEnabled = v != "false" && v != "0"
	}
	if v, ok := os.LookupEnv("CACHE_TTL_HOURS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CacheTTLHours = f
		}
	}
}

// PackagesDir is the content root for tarball blobs.
func (c ConfigFile) PackagesDir() string {
	return filepath.Join(c.CacheDir, "packages")
}

// MetadataDir is the content root for cached metadata documents.
func (c ConfigFile) MetadataDir() string {
	return filepath.Join(c.CacheDir, "metadata")
}
