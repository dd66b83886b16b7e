package docset

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCleanUpLowerBoundMS   = 10000
	defaultCleanUpUpperBoundMS   = 60000
	defaultPartialCleanUpPercent = 10
)

// yamlConfig is the on-disk shape LoadConfig reads, nested under a top-level
// docset: key so a host application's own config file can carry unrelated
// sections alongside it.
type yamlConfig struct {
	Docset struct {
		CacheCleanUpLowerBound int    `yaml:"CacheCleanUpLowerBound"`
		CacheCleanUpUpperBound int    `yaml:"CacheCleanUpUpperBound"`
		ConnectionString       string `yaml:"ConnectionString"`
		Database               string `yaml:"Database"`
		PartialCleanUpPercent  int    `yaml:"PartialCleanUpPercent"`
	} `yaml:"docset"`
}

// Config holds everything NewContext and a caller's own Session dial need.
// The cache clean-up bounds are the Cache Cleaner's lower/upper sweep
// interval of §5: no sweep runs sooner than CacheCleanUpLowerBound after
// the previous one; an observed GC cycle triggers a full sweep, and a
// partial sweep runs after CacheCleanUpUpperBound without one.
type Config struct {
	CacheCleanUpLowerBound time.Duration
	CacheCleanUpUpperBound time.Duration
	ConnectionString       string
	Database               string

	// PartialCleanUpPercent bounds how much of the Unchanged cache's
	// capacity a partial sweep reclaims in one pass, 0-100.
	PartialCleanUpPercent int
}

// DefaultConfig returns the bounds spec §6 names as defaults: a 10s lower
// bound, a 60s upper bound, 10% partial sweeps.
func DefaultConfig() Config {
	return Config{
		CacheCleanUpLowerBound: defaultCleanUpLowerBoundMS * time.Millisecond,
		CacheCleanUpUpperBound: defaultCleanUpUpperBoundMS * time.Millisecond,
		PartialCleanUpPercent:  defaultPartialCleanUpPercent,
	}
}

// LoadConfig reads a YAML file's docset: section, applying DefaultConfig's
// values for anything left zero. A missing file is not an error: it yields
// DefaultConfig unchanged, matching the "sensible defaults, override only
// what you need" posture of the teacher's own config loading.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("docset: read config: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("docset: parse config: %w", err)
	}

	if raw.Docset.CacheCleanUpLowerBound > 0 {
		cfg.CacheCleanUpLowerBound = time.Duration(raw.Docset.CacheCleanUpLowerBound) * time.Millisecond
	}
	if raw.Docset.CacheCleanUpUpperBound > 0 {
		cfg.CacheCleanUpUpperBound = time.Duration(raw.Docset.CacheCleanUpUpperBound) * time.Millisecond
	}
	if raw.Docset.ConnectionString != "" {
		cfg.ConnectionString = raw.Docset.ConnectionString
	}
	if raw.Docset.Database != "" {
		cfg.Database = raw.Docset.Database
	}
	if raw.Docset.PartialCleanUpPercent > 0 {
		cfg.PartialCleanUpPercent = raw.Docset.PartialCleanUpPercent
	}

	if cfg.CacheCleanUpLowerBound > cfg.CacheCleanUpUpperBound {
		return Config{}, fmt.Errorf("docset: %w: CacheCleanUpLowerBound must not exceed CacheCleanUpUpperBound", ErrArgument)
	}
	return cfg, nil
}
