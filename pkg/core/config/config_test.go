package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincache/pkg/core/store"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, store.DriverSQLite, cfg.Driver)
	assert.Equal(t, 7, cfg.MaxAgeDays)
	assert.Equal(t, 3, cfg.InterimCap)
	assert.True(t, cfg.PartialSums)
	assert.Equal(t, 7*24*time.Hour, cfg.MaxAge())

	// Identity has no default.
	assert.Error(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"FINCACHE_IDENTITY":       "  Jane Analyst jane@example.com ",
		"FINCACHE_MAX_AGE_DAYS":   "30",
		"FINCACHE_INTERIM_CAP":    "1",
		"FINCACHE_REJECT_INVALID": "true",
		"FINCACHE_PARTIAL_SUMS":   "false",
		"FINCACHE_DB_DRIVER":      "postgres",
		"DATABASE_URL":            "postgres://localhost/fincache",
		"FINCACHE_RATE_LIMIT":     "2.5",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Jane Analyst jane@example.com", cfg.Identity)
	assert.Equal(t, 30, cfg.MaxAgeDays)
	assert.Equal(t, 1, cfg.InterimCap)
	assert.True(t, cfg.RejectInvalid)
	assert.False(t, cfg.PartialSums)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, store.Options{Driver: "postgres", DSN: "postgres://localhost/fincache"}, cfg.StoreOptions())

	p := cfg.Pipeline()
	assert.Equal(t, 30*24*time.Hour, p.MaxAge)
	assert.Equal(t, 1, p.InterimCap)
	assert.True(t, p.RejectInvalid)
	assert.False(t, p.PartialSums)
}

func TestApplyEnv_RejectsBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"FINCACHE_MAX_AGE_DAYS":   "a week",
		"FINCACHE_REJECT_INVALID": "maybe",
		"FINCACHE_RATE_LIMIT":     "fast",
	} {
		cfg := Default()
		err := cfg.applyEnv(env(map[string]string{key: val}))
		assert.Error(t, err, key)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Identity = "Jane jane@example.com"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Driver = store.DriverPostgres }},
		{"sqlite without path", func(c *Config) { c.CachePath = "" }},
		{"negative window", func(c *Config) { c.MaxAgeDays = -1 }},
		{"negative interim cap", func(c *Config) { c.InterimCap = -1 }},
		{"zero rate limit", func(c *Config) { c.RateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fincache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
identity: File Identity file@example.com
cache_path: /tmp/from-file.db
max_age_days: 14
interim_cap: 2
`), 0o600))
	t.Setenv("FINCACHE_MAX_AGE_DAYS", "21")
	t.Setenv("FINCACHE_IDENTITY", "")
	t.Setenv("FINCACHE_CACHE_PATH", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "File Identity file@example.com", cfg.Identity)
	assert.Equal(t, "/tmp/from-file.db", cfg.CachePath)
	assert.Equal(t, 21, cfg.MaxAgeDays)
	assert.Equal(t, 2, cfg.InterimCap)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fincache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity: x\nmax_age: 3\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
