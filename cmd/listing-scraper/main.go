package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/olx-listing-scraper/internal/api"
	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/config"
	"github.com/maltedev/olx-listing-scraper/internal/coordinator"
	"github.com/maltedev/olx-listing-scraper/internal/database"
	"github.com/maltedev/olx-listing-scraper/internal/extract"
	"github.com/maltedev/olx-listing-scraper/internal/listing"
	"github.com/maltedev/olx-listing-scraper/internal/navigator"
	"github.com/maltedev/olx-listing-scraper/internal/ratelimit"
	"github.com/maltedev/olx-listing-scraper/internal/scheduler"
	"github.com/maltedev/olx-listing-scraper/pkg/logger"
)

// runner binds the configured target and credentials to the coordinator.
type runner struct {
	*coordinator.Coordinator
	creds  navigator.Credentials
	target string
}

func (r runner) Start(ctx context.Context) error {
	return r.Coordinator.Start(ctx, r.creds, r.target)
}

func (r runner) Run(ctx context.Context) error {
	_, err := r.Coordinator.Run(ctx, r.creds, r.target)
	return err
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		log.Info("schema applied")
	}

	var outbox api.OutboxStats
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			BatchSize:    cfg.Redis.BatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
		outbox = relay
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Engine = cfg.Browser.Engine
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.Locale = cfg.Browser.Locale
	browserOpts.TimezoneID = cfg.Browser.TimezoneID
	browserOpts.ProxyServer = cfg.Browser.Proxy

	launcher, err := browser.NewPlaywrightLauncher(browserOpts, log)
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer launcher.Stop()

	policy := extract.DefaultPolicy()
	policy.LookupTimeout = cfg.Scraper.LookupTimeout
	policy.ScrollAttempts = cfg.Scraper.ScrollAttempts
	policy.ProbeTimeout = cfg.Scraper.ProbeTimeout
	policy.ScrollPause = cfg.Scraper.ScrollPause

	stepPacer := ratelimit.Jitter{Min: cfg.Scraper.StepDelayMin, Max: cfg.Scraper.StepDelayMax}

	listingCfg := listing.DefaultConfig()
	listingCfg.PhoneRevealTimeout = cfg.Scraper.PhoneRevealWait
	listingCfg.LoginEnabled = cfg.Scraper.LoginEnabled

	navCfg := navigator.DefaultConfig()
	navCfg.IndexTimeout = cfg.Scraper.IndexTimeout

	coord := coordinator.New(coordinator.Config{
		BaseURL:        cfg.Site.BaseURL,
		PageCount:      cfg.Scraper.PageCount,
		Workers:        cfg.Scraper.Workers,
		LaunchMinDelay: cfg.Scraper.LaunchDelayMin,
		LaunchMaxDelay: cfg.Scraper.LaunchDelayMax,
		Pacer:          stepPacer,
	}, launcher, navCfg, listing.New(listingCfg, policy, stepPacer, log), db, log)

	scrapeRunner := runner{
		Coordinator: coord,
		creds: navigator.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		},
		target: cfg.Site.IndexURL,
	}

	sched := scheduler.New(log)
	if cfg.Schedule.Enabled {
		sched.Every("scrape", cfg.Schedule.Interval, cfg.Schedule.InitialDelay, scrapeRunner.Run)
	}
	if cfg.Schedule.DumpEnabled {
		loc, err := time.LoadLocation(cfg.Schedule.DumpTimezone)
		if err != nil {
			log.Error("invalid dump timezone", "error", err)
			os.Exit(1)
		}
		sched.DailyAt("db_dump", cfg.Schedule.DumpHour, cfg.Schedule.DumpMinute, loc, func(ctx context.Context) error {
			path, err := db.DumpProductsCSV(ctx, cfg.Schedule.DumpDir)
			if err != nil {
				return err
			}
			log.Info("database dump written", "path", path)
			return nil
		})
	}
	sched.Start(ctx)

	handlers := api.NewHandlers(ctx, db, outbox, scrapeRunner, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	sched.Wait()
	log.Info("server stopped")
}
