package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://m.qoo10.jp/shop/", cfg.Scraper.BaseURL)
	assert.Equal(t, "W", cfg.Scraper.Period)
	assert.Equal(t, 10, cfg.Scraper.MaxItems)
	assert.Equal(t, 9.40, cfg.Scraper.JPYToKRW)
	assert.Equal(t, "Galaxy S8", cfg.Browser.Device)
	assert.True(t, cfg.Browser.BlockImages)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "stream:ranking_requests", cfg.Consumer.RequestStream)
	assert.Equal(t, "stream:ranking_runs", cfg.Consumer.FinishStream)
	assert.Equal(t, 3, cfg.Consumer.MaxRetries)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCRAPER_PERIOD", "M")
	t.Setenv("SCRAPER_WAIT_TIMEOUT", "3s")
	t.Setenv("SCRAPER_JPY_TO_KRW", "9.1")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("REDIS_STREAM_MAXLEN", "50")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "M", cfg.Scraper.Period)
	assert.Equal(t, 3*time.Second, cfg.Scraper.WaitTimeout)
	assert.Equal(t, 9.1, cfg.Scraper.JPYToKRW)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, int64(50), cfg.Redis.MaxLen)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SCRAPER_MAX_ITEMS", "ten")
	t.Setenv("BROWSER_HEADLESS", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Scraper.MaxItems)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad period", func(c *Config) { c.Scraper.Period = "Y" }},
		{"no items", func(c *Config) { c.Scraper.MaxItems = 0 }},
		{"no wait", func(c *Config) { c.Scraper.WaitTimeout = 0 }},
		{"bad rate", func(c *Config) { c.Scraper.JPYToKRW = 0 }},
		{"no output dir", func(c *Config) { c.Scraper.OutputDir = "" }},
		{"no cache", func(c *Config) { c.Fetch.CacheSize = 0 }},
		{"no queue", func(c *Config) { c.Queue.MaxSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, DBName: "ranking", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/ranking?sslmode=require", d.DSN())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "text"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "shop", "anua")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shop=anua")

	buf.Reset()
	LoggingConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("dbg")
	assert.Contains(t, buf.String(), `"msg":"dbg"`)
}
