// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://matchapro.web.bps.go.id/dirgc", cfg.Target.URL)
	assert.Equal(t, 5*time.Minute, cfg.Run.IdleTimeout)
	assert.Equal(t, 11*time.Minute, cfg.Run.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Run.BackoffCap)
}

func TestSetDefaultsUnmarshal(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.Run.PollInterval)
	assert.Equal(t, 10, cfg.Run.SubmitRetries)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty target url", func(c *Config) { c.Target.URL = "" }},
		{"empty target host", func(c *Config) { c.Target.Host = "" }},
		{"zero timeout scale", func(c *Config) { c.Run.TimeoutScale = 0 }},
		{"negative idle timeout", func(c *Config) { c.Run.IdleTimeout = -time.Second }},
		{"zero poll interval", func(c *Config) { c.Run.PollInterval = 0 }},
		{"cap below base", func(c *Config) { c.Run.BackoffCap = c.Run.BackoffBase - time.Minute }},
		{"delay max below min", func(c *Config) { c.Run.DelayMax = c.Run.DelayMin - time.Second }},
		{"no submit retries", func(c *Config) { c.Run.SubmitRetries = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
