// Package config loads the cache configuration from a .env file, an optional
// YAML file and FINCACHE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	"fincache/pkg/core/pipeline"
	"fincache/pkg/core/selector"
	"fincache/pkg/core/store"
)

// Defaults.
const (
	DefaultMaxAgeDays = 7
	DefaultCacheFile  = "fincache.db"
	DefaultLogLevel   = "info"
	DefaultRateLimit  = 10
)

// Config is the full runtime configuration.
type Config struct {
	// Identity is forwarded to the filing repository as User-Agent.
	Identity string `yaml:"identity"`

	Driver    string `yaml:"driver"`     // sqlite or postgres
	CachePath string `yaml:"cache_path"` // SQLite file
	// DatabaseURL is the Postgres connection URL when Driver is postgres.
	DatabaseURL string `yaml:"database_url"`

	MaxAgeDays    int     `yaml:"max_age_days"`
	InterimCap    int     `yaml:"interim_cap"`
	RejectInvalid bool    `yaml:"reject_invalid"`
	CrossCheck    bool    `yaml:"cross_check"`
	PartialSums   bool    `yaml:"partial_sums"`
	RateLimit     float64 `yaml:"rate_limit"` // requests per second

	// ConceptsFile holds YAML concept-map overrides.
	ConceptsFile string `yaml:"concepts_file"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Driver:      store.DriverSQLite,
		CachePath:   defaultCachePath(),
		MaxAgeDays:  DefaultMaxAgeDays,
		InterimCap:  selector.DefaultInterimCap,
		CrossCheck:  true,
		PartialSums: true,
		RateLimit:   DefaultRateLimit,
		LogLevel:    DefaultLogLevel,
	}
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultCacheFile
	}
	return filepath.Join(home, ".fincache", DefaultCacheFile)
}

// Load reads .env (if present), then path (if non-empty), then the
// environment. The result is validated.
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, eris.Wrapf(err, "read config %s", path)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("FINCACHE_IDENTITY", &c.Identity)
	str("FINCACHE_DB_DRIVER", &c.Driver)
	str("FINCACHE_CACHE_PATH", &c.CachePath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("FINCACHE_CONCEPTS", &c.ConceptsFile)
	str("FINCACHE_LOG_LEVEL", &c.LogLevel)

	for key, dst := range map[string]*int{
		"FINCACHE_MAX_AGE_DAYS": &c.MaxAgeDays,
		"FINCACHE_INTERIM_CAP":  &c.InterimCap,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return eris.Wrapf(err, "%s", key)
		}
		*dst = n
	}

	for key, dst := range map[string]*bool{
		"FINCACHE_REJECT_INVALID": &c.RejectInvalid,
		"FINCACHE_CROSS_CHECK":    &c.CrossCheck,
		"FINCACHE_PARTIAL_SUMS":   &c.PartialSums,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return eris.Wrapf(err, "%s", key)
		}
		*dst = b
	}

	if v, ok := lookup("FINCACHE_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return eris.Wrap(err, "FINCACHE_RATE_LIMIT")
		}
		c.RateLimit = f
	}
	return nil
}

// Validate rejects configurations the cache cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Identity) == "" {
		return eris.New("identity is required (set FINCACHE_IDENTITY to \"Name email@example.com\")")
	}
	switch c.Driver {
	case store.DriverSQLite:
		if c.CachePath == "" {
			return eris.New("cache_path is required for the sqlite driver")
		}
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			return eris.New("database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("unknown driver %q", c.Driver)
	}
	if c.MaxAgeDays < 0 {
		return eris.Errorf("max_age_days must not be negative, got %d", c.MaxAgeDays)
	}
	if c.InterimCap < 0 {
		return eris.Errorf("interim_cap must not be negative, got %d", c.InterimCap)
	}
	if c.RateLimit <= 0 {
		return eris.Errorf("rate_limit must be positive, got %g", c.RateLimit)
	}
	return nil
}

// MaxAge is the staleness window as a duration.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// StoreOptions returns the store.Options for the configured backend.
func (c Config) StoreOptions() store.Options {
	dsn := c.CachePath
	if c.Driver == store.DriverPostgres {
		dsn = c.DatabaseURL
	}
	return store.Options{Driver: c.Driver, DSN: dsn}
}

// Pipeline returns the service configuration.
func (c Config) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.MaxAge = c.MaxAge()
	cfg.InterimCap = c.InterimCap
	cfg.RejectInvalid = c.RejectInvalid
	cfg.CrossCheck = c.CrossCheck
	cfg.PartialSums = c.PartialSums
	return cfg
}
