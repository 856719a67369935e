package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AllowTestSize)
	assert.Equal(t, 65536, cfg.MaxGlobalSize)
	assert.Equal(t, 3, cfg.RepeatCount)
	assert.False(t, cfg.DisableLocalTransforms)
	assert.Equal(t, CacheTimings, cfg.CacheLevel)
	assert.Equal(t, 1, cfg.Parallelism)

	opts := cfg.measureOptions()
	assert.True(t, opts.UseCache)
	cfg.CacheLevel = CacheSearch
	assert.False(t, cfg.measureOptions().UseCache)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvCacheLevel, "1")
	t.Setenv(EnvIgnoreBeamCache, "1")
	t.Setenv(EnvMaxGlobalSize, "1024")
	t.Setenv(EnvRepeatCount, "5")
	t.Setenv(EnvParallelism, "-1")
	t.Setenv(EnvCacheDir, "~/autotune")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, CacheSearch, cfg.CacheLevel)
	assert.True(t, cfg.IgnoreBeamCache)
	assert.Equal(t, 1024, cfg.MaxGlobalSize)
	assert.Equal(t, 5, cfg.RepeatCount)
	assert.Equal(t, -1, cfg.Parallelism)
	assert.Equal(t, "~/autotune", cfg.CacheDir)

	t.Setenv(EnvIgnoreBeamCache, "false")
	cfg, err = ConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.IgnoreBeamCache)

	t.Setenv(EnvIgnoreBeamCache, "maybe")
	_, err = ConfigFromEnv()
	require.Error(t, err)

	t.Setenv(EnvIgnoreBeamCache, "0")
	t.Setenv(EnvRepeatCount, "three")
	_, err = ConfigFromEnv()
	require.Error(t, err)

	t.Setenv(EnvRepeatCount, "3")
	t.Setenv(EnvCacheLevel, "7")
	_, err = ConfigFromEnv()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"cache level":     func(c *Config) { c.CacheLevel = -1 },
		"max global size": func(c *Config) { c.MaxGlobalSize = 0 },
		"repeat count":    func(c *Config) { c.RepeatCount = 0 },
		"parallelism":     func(c *Config) { c.Parallelism = 0 },
		"parallelism -2":  func(c *Config) { c.Parallelism = -2 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
