package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8003", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://www.olx.ua", cfg.Site.BaseURL)
	assert.Equal(t, 5, cfg.Scraper.PageCount)
	assert.Equal(t, 20, cfg.Scraper.ScrollAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Scraper.ScrollPause)
	assert.Equal(t, time.Second, cfg.Scraper.ProbeTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.Interval)
	assert.Equal(t, 12, cfg.Schedule.DumpHour)
	assert.Equal(t, "firefox", cfg.Browser.Engine)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SCRAPER_WORKERS", "8")
	t.Setenv("SCRAPER_STEP_DELAY_MIN", "0s")
	t.Setenv("SCRAPER_STEP_DELAY_MAX", "500ms")
	t.Setenv("EMAIL_OLX", "user@example.com")
	t.Setenv("PASSWORD_OLX", "secret")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://localhost, http://127.0.0.1 ,")
	t.Setenv("POSTGRES_PORT", "not-a-number")
	t.Setenv("BROWSER_HEADLESS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scraper.Workers)
	assert.Equal(t, time.Duration(0), cfg.Scraper.StepDelayMin)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.StepDelayMax)
	assert.Equal(t, "user@example.com", cfg.Credentials.Email)
	assert.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5432, cfg.Database.Port, "unparsable values keep the default")
	assert.False(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Scraper.Workers = 0 },
			wantErr: "SCRAPER_WORKERS",
		},
		{
			name:    "zero pages",
			mutate:  func(c *Config) { c.Scraper.PageCount = 0 },
			wantErr: "SCRAPER_PAGE_COUNT",
		},
		{
			name: "inverted step delays",
			mutate: func(c *Config) {
				c.Scraper.StepDelayMin = 5 * time.Second
				c.Scraper.StepDelayMax = time.Second
			},
			wantErr: "SCRAPER_STEP_DELAY_MIN",
		},
		{
			name:    "relative index url",
			mutate:  func(c *Config) { c.Site.IndexURL = "/uk/list/" },
			wantErr: "SITE_INDEX_URL",
		},
		{
			name:    "login without credentials",
			mutate:  func(c *Config) { c.Scraper.LoginEnabled = true },
			wantErr: "EMAIL_OLX",
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Browser.Engine = "webkit" },
			wantErr: "BROWSER_ENGINE",
		},
		{
			name:    "dump hour out of range",
			mutate:  func(c *Config) { c.Schedule.DumpHour = 24 },
			wantErr: "DUMP_HOUR",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Schedule.DumpTimezone = "Mars/Olympus" },
			wantErr: "DUMP_TIMEZONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
