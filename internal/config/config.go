package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Server      ServerConfig
	Site        SiteConfig
	Credentials CredentialsConfig
	Scraper     ScraperConfig
	Browser     BrowserConfig
	Schedule    ScheduleConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type SiteConfig struct {
	BaseURL  string
	IndexURL string
}

type CredentialsConfig struct {
	Email    string
	Password string
}

type ScraperConfig struct {
	PageCount       int
	Workers         int
	LoginEnabled    bool
	StepDelayMin    time.Duration
	StepDelayMax    time.Duration
	LaunchDelayMin  time.Duration
	LaunchDelayMax  time.Duration
	LookupTimeout   time.Duration
	IndexTimeout    time.Duration
	ScrollAttempts  int
	ScrollPause     time.Duration
	ProbeTimeout    time.Duration
	PhoneRevealWait time.Duration
}

type BrowserConfig struct {
	Engine     string
	Headless   bool
	Timeout    time.Duration
	Locale     string
	TimezoneID string
	Proxy      string
}

type ScheduleConfig struct {
	Enabled      bool
	Interval     time.Duration
	InitialDelay time.Duration
	DumpEnabled  bool
	DumpHour     int
	DumpMinute   int
	DumpTimezone string
	DumpDir      string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	AutoMigrate bool
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8003"),
			Host:            getEnvOrDefault("SERVER_HOST", "127.0.0.1"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost"}),
		},
		Site: SiteConfig{
			BaseURL:  getEnvOrDefault("SITE_BASE_URL", "https://www.olx.ua"),
			IndexURL: getEnvOrDefault("SITE_INDEX_URL", "https://www.olx.ua/uk/list/"),
		},
		Credentials: CredentialsConfig{
			Email:    getEnvOrDefault("EMAIL_OLX", ""),
			Password: getEnvOrDefault("PASSWORD_OLX", ""),
		},
		Scraper: ScraperConfig{
			PageCount:       getIntOrDefault("SCRAPER_PAGE_COUNT", 5),
			Workers:         getIntOrDefault("SCRAPER_WORKERS", 4),
			LoginEnabled:    getBoolOrDefault("SCRAPER_LOGIN_ENABLED", false),
			StepDelayMin:    getDurationOrDefault("SCRAPER_STEP_DELAY_MIN", 2*time.Second),
			StepDelayMax:    getDurationOrDefault("SCRAPER_STEP_DELAY_MAX", 3*time.Second),
			LaunchDelayMin:  getDurationOrDefault("SCRAPER_LAUNCH_DELAY_MIN", time.Second),
			LaunchDelayMax:  getDurationOrDefault("SCRAPER_LAUNCH_DELAY_MAX", 3*time.Second),
			LookupTimeout:   getDurationOrDefault("SCRAPER_LOOKUP_TIMEOUT", 5*time.Second),
			IndexTimeout:    getDurationOrDefault("SCRAPER_INDEX_TIMEOUT", 15*time.Second),
			ScrollAttempts:  getIntOrDefault("SCRAPER_SCROLL_ATTEMPTS", 20),
			ScrollPause:     getDurationOrDefault("SCRAPER_SCROLL_PAUSE", 200*time.Millisecond),
			ProbeTimeout:    getDurationOrDefault("SCRAPER_PROBE_TIMEOUT", time.Second),
			PhoneRevealWait: getDurationOrDefault("SCRAPER_PHONE_REVEAL_WAIT", 3*time.Second),
		},
		Browser: BrowserConfig{
			Engine:     getEnvOrDefault("BROWSER_ENGINE", "firefox"),
			Headless:   getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:    getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			Locale:     getEnvOrDefault("BROWSER_LOCALE", "uk-UA"),
			TimezoneID: getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Kyiv"),
			Proxy:      getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Schedule: ScheduleConfig{
			Enabled:      getBoolOrDefault("SCHEDULE_ENABLED", true),
			Interval:     getDurationOrDefault("SCHEDULE_INTERVAL", 24*time.Hour),
			InitialDelay: getDurationOrDefault("SCHEDULE_INITIAL_DELAY", 5*time.Second),
			DumpEnabled:  getBoolOrDefault("DUMP_ENABLED", true),
			DumpHour:     getIntOrDefault("DUMP_HOUR", 12),
			DumpMinute:   getIntOrDefault("DUMP_MINUTE", 0),
			DumpTimezone: getEnvOrDefault("DUMP_TIMEZONE", "Europe/Kyiv"),
			DumpDir:      getEnvOrDefault("DUMP_DIR", "."),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("POSTGRES_DOMAIN", "localhost"),
			Port:        getIntOrDefault("POSTGRES_PORT", 5432),
			User:        getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password:    getEnvOrDefault("POSTGRES_PASSWORD", ""),
			DBName:      getEnvOrDefault("POSTGRES_DB_NAME", "olx"),
			SSLMode:     getEnvOrDefault("POSTGRES_SSL_MODE", "disable"),
			MaxConns:    getIntOrDefault("POSTGRES_MAX_CONNS", 25),
			AutoMigrate: getBoolOrDefault("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", true),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPER_WORKERS must be at least 1")
	}

	if c.Scraper.PageCount < 1 {
		return fmt.Errorf("SCRAPER_PAGE_COUNT must be at least 1")
	}

	if c.Scraper.StepDelayMin > c.Scraper.StepDelayMax {
		return fmt.Errorf("SCRAPER_STEP_DELAY_MIN cannot be greater than SCRAPER_STEP_DELAY_MAX")
	}

	if c.Scraper.LaunchDelayMin > c.Scraper.LaunchDelayMax {
		return fmt.Errorf("SCRAPER_LAUNCH_DELAY_MIN cannot be greater than SCRAPER_LAUNCH_DELAY_MAX")
	}

	for name, raw := range map[string]string{"SITE_BASE_URL": c.Site.BaseURL, "SITE_INDEX_URL": c.Site.IndexURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", name, raw)
		}
	}

	if c.Scraper.LoginEnabled && (c.Credentials.Email == "" || c.Credentials.Password == "") {
		return fmt.Errorf("EMAIL_OLX and PASSWORD_OLX are required when SCRAPER_LOGIN_ENABLED is set")
	}

	switch c.Browser.Engine {
	case "firefox", "chromium":
	default:
		return fmt.Errorf("BROWSER_ENGINE must be firefox or chromium, got %q", c.Browser.Engine)
	}

	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return fmt.Errorf("SCHEDULE_INTERVAL must be positive")
	}

	if c.Schedule.DumpHour < 0 || c.Schedule.DumpHour > 23 || c.Schedule.DumpMinute < 0 || c.Schedule.DumpMinute > 59 {
		return fmt.Errorf("DUMP_HOUR/DUMP_MINUTE out of range: %02d:%02d", c.Schedule.DumpHour, c.Schedule.DumpMinute)
	}

	if _, err := time.LoadLocation(c.Schedule.DumpTimezone); err != nil {
		return fmt.Errorf("DUMP_TIMEZONE: %w", err)
	}

	if c.Redis.BatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
