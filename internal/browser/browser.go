package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// hideWebdriver masks the automation flag page scripts use to detect
// controlled browsers.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

type Options struct {
	Engine       string // "firefox" or "chromium"
	Headless     bool
	Timeout      time.Duration
	UserAgents   []string
	Viewports    []Viewport
	Locale       string
	TimezoneID   string
	ProxyServer  string
	ExtraHeaders map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Engine:     "firefox",
		Headless:   true,
		Timeout:    30 * time.Second,
		UserAgents: DefaultUserAgents(),
		Viewports:  DefaultViewports(),
		Locale:     "uk-UA",
		TimezoneID: "Europe/Kyiv",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "uk-UA,uk;q=0.9,en;q=0.8",
		},
	}
}

// PlaywrightLauncher owns one playwright driver process and launches a new
// browser instance for every session.
type PlaywrightLauncher struct {
	pw     *playwright.Playwright
	opts   *Options
	logger *slog.Logger

	stopOnce sync.Once
}

func NewPlaywrightLauncher(opts *Options, logger *slog.Logger) (*PlaywrightLauncher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightLauncher{
		pw:     pw,
		opts:   opts,
		logger: logger.With("component", "browser"),
	}, nil
}

// Launch starts a browser, an isolated context with a random user agent and
// viewport, and a page carrying the webdriver-masking init script.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
	}
	if l.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: l.opts.ProxyServer}
	}

	browserType := l.pw.Firefox
	if l.opts.Engine == "chromium" {
		browserType = l.pw.Chromium
		launchOpts.Args = []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		}
	}

	b, err := browserType.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	userAgent := pickUserAgent(l.opts.UserAgents)
	viewport := pickViewport(l.opts.Viewports)

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
		ExtraHttpHeaders: l.opts.ExtraHeaders,
	}
	if userAgent != "" {
		contextOpts.UserAgent = playwright.String(userAgent)
	}
	if l.opts.Locale != "" {
		contextOpts.Locale = playwright.String(l.opts.Locale)
	}
	if l.opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(l.opts.TimezoneID)
	}

	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(l.opts.Timeout.Milliseconds()))

	if err := page.AddInitScript(playwright.Script{Content: playwright.String(hideWebdriver)}); err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	l.logger.Debug("session launched",
		"engine", l.opts.Engine,
		"user_agent", userAgent,
		"viewport", fmt.Sprintf("%dx%d", viewport.Width, viewport.Height),
	)

	return &playwrightSession{
		browser:   b,
		context:   bctx,
		page:      &playwrightPage{page: page},
		userAgent: userAgent,
	}, nil
}

// Stop shuts the playwright driver down. Sessions must be closed first.
func (l *PlaywrightLauncher) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		if l.pw != nil {
			err = l.pw.Stop()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightSession struct {
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      *playwrightPage
	userAgent string
}

func (s *playwrightSession) Page() Page { return s.page }

func (s *playwrightSession) UserAgent() string { return s.userAgent }

func (s *playwrightSession) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	return errors.Join(errs...)
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) (Element, error) {
	handle, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if handle == nil {
		return nil, ErrNotFound
	}
	return &playwrightElement{handle: handle}, nil
}

func (p *playwrightPage) QuerySelector(selector string) (Element, error) {
	handle, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, ErrNotFound
	}
	return &playwrightElement{handle: handle}, nil
}

func (p *playwrightPage) QuerySelectorAll(selector string) ([]Element, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &playwrightElement{handle: h})
	}
	return elements, nil
}

func (p *playwrightPage) Click(selector string) error {
	err := p.page.Locator(selector).First().Click()
	if errors.Is(err, playwright.ErrTimeout) {
		return ErrNotFound
	}
	return err
}

func (p *playwrightPage) Fill(selector, value string) error {
	err := p.page.Locator(selector).First().Fill(value)
	if errors.Is(err, playwright.ErrTimeout) {
		return ErrNotFound
	}
	return err
}

func (p *playwrightPage) ScrollBy(deltaY float64) error {
	return p.page.Mouse().Wheel(0, deltaY)
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) UserAgent() (string, error) {
	v, err := p.page.Evaluate("navigator.userAgent")
	if err != nil {
		return "", err
	}
	ua, _ := v.(string)
	return ua, nil
}

type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) TextContent() (string, error) {
	return e.handle.TextContent()
}

func (e *playwrightElement) GetAttribute(name string) (string, error) {
	return e.handle.GetAttribute(name)
}

func (e *playwrightElement) Click() error {
	if err := e.handle.ScrollIntoViewIfNeeded(); err != nil {
		return err
	}
	return e.handle.Click()
}
