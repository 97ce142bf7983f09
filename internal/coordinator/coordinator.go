// Package coordinator runs one scrape: discover listing links on the index
// pages, then scrape and persist every listing with bounded concurrency.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/database"
	"github.com/maltedev/olx-listing-scraper/internal/listing"
	"github.com/maltedev/olx-listing-scraper/internal/metrics"
	"github.com/maltedev/olx-listing-scraper/internal/models"
	"github.com/maltedev/olx-listing-scraper/internal/navigator"
	"github.com/maltedev/olx-listing-scraper/internal/ratelimit"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Gateway persists scraped records.
type Gateway interface {
	SaveListing(ctx context.Context, rec *models.Record) error
}

// Outcome labels for processed listings.
const (
	OutcomeSaved        = "saved"
	OutcomeDuplicate    = "duplicate"
	OutcomeOpenFailed   = "open_failed"
	OutcomeInvalid      = "invalid"
	OutcomeSaveFailed   = "save_failed"
	OutcomeUnitPanicked = "panicked"
)

type Config struct {
	// BaseURL resolves the relative links found on index pages.
	BaseURL   string
	PageCount int
	Workers   int
	// LaunchMinDelay and LaunchMaxDelay space out session launches.
	LaunchMinDelay time.Duration
	LaunchMaxDelay time.Duration
	// Pacer spaces the interactions of each navigator. Nil disables pacing.
	Pacer ratelimit.Pacer
}

// Report summarises one run. Succeeded and Failed only count listings that
// were admitted; Skipped counts those never started because the run was
// cancelled.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Target     string    `json:"target"`
	Links      []string  `json:"links"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Error is set when the run stopped before any listing was admitted.
	Error string `json:"error,omitempty"`
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Coordinator struct {
	cfg      Config
	launcher browser.Launcher
	navCfg   navigator.Config
	scraper  *listing.Scraper
	gateway  Gateway
	launches *ratelimit.AdaptiveRateLimiter
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *Report
}

func New(
	cfg Config,
	launcher browser.Launcher,
	navCfg navigator.Config,
	scraper *listing.Scraper,
	gateway Gateway,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Coordinator{
		cfg:      cfg,
		launcher: launcher,
		navCfg:   navCfg,
		scraper:  scraper,
		gateway:  gateway,
		launches: ratelimit.NewAdaptiveRateLimiter(cfg.LaunchMinDelay, cfg.LaunchMaxDelay),
		logger:   logger.With("component", "coordinator"),
	}
}

// Running reports whether a run is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// LastReport returns the report of the most recent finished run, failed
// discoveries included, or nil.
func (c *Coordinator) LastReport() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Run discovers listing links under targetURL and scrapes each of them. It
// only fails when the discovery session cannot be opened; per-listing
// failures are counted in the report.
func (c *Coordinator) Run(ctx context.Context, creds navigator.Credentials, targetURL string) (*Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	return c.run(ctx, creds, targetURL)
}

// Start begins a run in the background and returns immediately. The result
// is available from LastReport once the run finishes.
func (c *Coordinator) Start(ctx context.Context, creds navigator.Credentials, targetURL string) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	go func() {
		defer c.running.Store(false)
		_, _ = c.run(ctx, creds, targetURL)
	}()
	return nil
}

func (c *Coordinator) run(ctx context.Context, creds navigator.Credentials, targetURL string) (*Report, error) {
	report := &Report{
		RunID:     uuid.New(),
		Target:    targetURL,
		StartedAt: time.Now(),
	}
	logger := c.logger.With("run_id", report.RunID)
	// Launch pacing widened by a previous run's errors starts over.
	c.launches.SetDelay(c.cfg.LaunchMinDelay, c.cfg.LaunchMaxDelay)
	logger.Info("run started", "target", targetURL, "pages", c.cfg.PageCount, "workers", c.cfg.Workers)

	links, err := c.Discover(ctx, targetURL)
	if err != nil {
		report.FinishedAt = time.Now()
		report.Error = err.Error()
		metrics.ScrapeRuns.WithLabelValues("failure").Inc()
		logger.Error("discovery failed", "error", err)
		c.store(report)
		return report, err
	}

	report.Links = links
	report.Total = len(links)
	metrics.LinksDiscovered.Set(float64(len(links)))

	if len(links) == 0 {
		logger.Warn("no listing links found")
	} else {
		c.fanOut(ctx, logger, creds, report)
	}

	report.FinishedAt = time.Now()
	metrics.ScrapeRuns.WithLabelValues("success").Inc()
	metrics.ScrapeRunDuration.Observe(report.Duration().Seconds())

	c.store(report)

	logger.Info("run finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration())
	return report, nil
}

func (c *Coordinator) store(report *Report) {
	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
}

// Discover opens one session on targetURL and collects the unique listing
// links from its first PageCount index pages.
func (c *Coordinator) Discover(ctx context.Context, targetURL string) ([]string, error) {
	nav := navigator.New(c.launcher, c.navCfg, c.cfg.Pacer, c.logger)
	defer nav.Close()

	if err := nav.Open(ctx, targetURL); err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	nav.DismissCookieBanner(ctx)

	links := nav.PaginateIndex(ctx, targetURL, c.cfg.PageCount)
	c.logger.Info("discovery finished", "links", len(links))
	return links, nil
}

func (c *Coordinator) fanOut(ctx context.Context, logger *slog.Logger, creds navigator.Credentials, report *Report) {
	sem := semaphore.NewWeighted(int64(c.cfg.Workers))
	// admitted units finish even if ctx is cancelled meanwhile
	unitCtx := context.WithoutCancel(ctx)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		failed    atomic.Int64
		admitted  int
	)

	for _, link := range report.Links {
		if ctx.Err() != nil {
			break
		}
		if err := c.launches.Wait(ctx); err != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		admitted++

		wg.Add(1)
		go func(link string) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := c.processLink(unitCtx, logger, creds, link)
			metrics.ListingsProcessed.WithLabelValues(outcome).Inc()

			switch outcome {
			case OutcomeSaved:
				succeeded.Add(1)
				c.launches.RecordSuccess()
			case OutcomeOpenFailed, OutcomeSaveFailed, OutcomeUnitPanicked:
				failed.Add(1)
				c.launches.RecordError()
			default:
				failed.Add(1)
			}
		}(link)
	}

	wg.Wait()

	if skipped := len(report.Links) - admitted; skipped > 0 {
		logger.Warn("run cancelled before all listings were started", "skipped", skipped, "error", ctx.Err())
		report.Skipped = skipped
	}
	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
}

// processLink scrapes and stores one listing in its own session. The session
// is always closed.
func (c *Coordinator) processLink(ctx context.Context, logger *slog.Logger, creds navigator.Credentials, link string) (outcome string) {
	logger = logger.With("link", link)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("listing unit panicked", "panic", rec)
			outcome = OutcomeUnitPanicked
		}
	}()

	pageURL, err := ResolveLink(c.cfg.BaseURL, link)
	if err != nil {
		logger.Error("invalid listing link", "error", err)
		return OutcomeInvalid
	}

	nav := navigator.New(c.launcher, c.navCfg, c.cfg.Pacer, logger)
	defer nav.Close()

	if err := nav.Open(ctx, pageURL); err != nil {
		logger.Error("failed to open listing", "error", err)
		return OutcomeOpenFailed
	}
	nav.DismissCookieBanner(ctx)

	state := c.scraper.Scrape(ctx, nav, listing.Target{Link: link, URL: pageURL, Credentials: creds})
	if err := state.Err(); err != nil {
		logger.Warn("listing scraped with failed steps", "error", err)
	}

	rec := state.Record()
	if err := rec.Validate(); err != nil {
		logger.Error("listing not persisted", "error", err)
		return OutcomeInvalid
	}

	if err := c.gateway.SaveListing(ctx, rec); err != nil {
		if errors.Is(err, database.ErrDuplicateListing) {
			logger.Warn("listing already stored", "site_id", models.Deref(rec.Product.SiteID))
			return OutcomeDuplicate
		}
		logger.Error("failed to save listing", "site_id", models.Deref(rec.Product.SiteID), "error", err)
		return OutcomeSaveFailed
	}

	logger.Info("listing saved", "site_id", models.Deref(rec.Product.SiteID))
	return OutcomeSaved
}

// ResolveLink turns a listing link into an absolute URL against base.
func ResolveLink(base, link string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	return b.ResolveReference(ref).String(), nil
}
