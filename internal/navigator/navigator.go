// Package navigator owns one browser session for one unit of work: either
// discovering listing links on index pages or scraping one listing.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/metrics"
	"github.com/maltedev/olx-listing-scraper/internal/models"
	"github.com/maltedev/olx-listing-scraper/internal/ratelimit"
)

var (
	ErrNotOpen       = errors.New("navigator session is not open")
	ErrNoCredentials = errors.New("no login credentials configured")
)

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// Selectors addresses the site chrome the navigator interacts with.
type Selectors struct {
	CookieDismiss  string
	IndexContainer string
	ListingLink    string
	LoginEntry     string
	Username       string
	Password       string
	LoginSubmit    string
}

func DefaultSelectors() Selectors {
	return Selectors{
		CookieDismiss:  `div.css-e661z2 > button[data-cy="dismiss-cookies-overlay"]`,
		IndexContainer: `div[data-testid="listing-grid"]`,
		ListingLink:    `div[data-cy="l-card"] a[href]`,
		LoginEntry:     `div.css-zs6l2q > a[data-cy="myolx-link"]`,
		Username:       `input[name='username']`,
		Password:       `input[name='password']`,
		LoginSubmit:    `button[data-testid="login-submit-button"]`,
	}
}

type Config struct {
	Selectors     Selectors
	IndexTimeout  time.Duration
	CookieTimeout time.Duration
	LoginTimeout  time.Duration
	// LoginSettle is how long to wait after submitting credentials before
	// navigating back to the return URL.
	LoginSettle time.Duration
}

func DefaultConfig() Config {
	return Config{
		Selectors:     DefaultSelectors(),
		IndexTimeout:  15 * time.Second,
		CookieTimeout: 5 * time.Second,
		LoginTimeout:  10 * time.Second,
		LoginSettle:   8 * time.Second,
	}
}

type Navigator struct {
	launcher browser.Launcher
	cfg      Config
	pacer    ratelimit.Pacer
	logger   *slog.Logger

	session browser.Session
	page    browser.Page

	loginAttempted bool
	loggedIn       bool
	loginErr       error

	closeOnce sync.Once
	closeErr  error
}

// New returns a navigator with no session. A nil pacer disables pacing.
func New(launcher browser.Launcher, cfg Config, pacer ratelimit.Pacer, logger *slog.Logger) *Navigator {
	if pacer == nil {
		pacer = ratelimit.Jitter{}
	}
	return &Navigator{
		launcher: launcher,
		cfg:      cfg,
		pacer:    pacer,
		logger:   logger.With("component", "navigator"),
	}
}

// Open launches a fresh session and navigates to targetURL. Close must be
// called whether or not Open succeeds.
func (n *Navigator) Open(ctx context.Context, targetURL string) error {
	if n.session != nil {
		return fmt.Errorf("navigator already open on %s", n.page.URL())
	}

	session, err := n.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch session: %w", err)
	}
	n.session = session
	n.page = session.Page()
	metrics.BrowserSessionsOpen.Inc()

	if ua, err := n.page.UserAgent(); err == nil {
		n.logger.Debug("session opened", "user_agent", ua, "url", targetURL)
	}

	if err := n.page.Goto(targetURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", targetURL, err)
	}
	return nil
}

// Page returns the session's page, or nil before Open.
func (n *Navigator) Page() browser.Page {
	return n.page
}

// DismissCookieBanner clicks the consent control if it shows up.
func (n *Navigator) DismissCookieBanner(ctx context.Context) bool {
	if n.page == nil || ctx.Err() != nil {
		return false
	}

	sel := n.cfg.Selectors.CookieDismiss
	if _, err := n.page.WaitForSelector(sel, n.cfg.CookieTimeout); err != nil {
		n.logger.Warn("cookie banner not found", "error", err)
		return false
	}
	if err := n.page.Click(sel); err != nil {
		n.logger.Warn("failed to dismiss cookie banner", "error", err)
		return false
	}

	n.logger.Debug("cookie banner dismissed")
	return true
}

// PaginateIndex visits pages 1..pageCount of baseURL and returns the unique
// listing links found on them. Pages that fail to load or render are skipped.
func (n *Navigator) PaginateIndex(ctx context.Context, baseURL string, pageCount int) []string {
	links := models.NewLinkSet()
	if n.page == nil {
		n.logger.Error("cannot paginate index", "error", ErrNotOpen)
		return links.Links()
	}

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			n.logger.Warn("index pagination interrupted", "page", pageNum, "error", err)
			break
		}

		pageURL, err := IndexPageURL(baseURL, pageNum)
		if err != nil {
			n.logger.Error("invalid index url", "url", baseURL, "error", err)
			break
		}

		found, err := n.collectLinks(pageURL)
		if err != nil {
			n.logger.Warn("skipping index page", "page", pageNum, "url", pageURL, "error", err)
			continue
		}

		added := 0
		for _, link := range found {
			if links.Add(link) {
				added++
			}
		}
		n.logger.Info("index page processed", "page", pageNum, "links", len(found), "new", added)

		if pageNum < pageCount {
			if err := n.pacer.Wait(ctx); err != nil {
				break
			}
		}
	}

	return links.Links()
}

func (n *Navigator) collectLinks(pageURL string) ([]string, error) {
	if err := n.page.Goto(pageURL); err != nil {
		return nil, err
	}
	if _, err := n.page.WaitForSelector(n.cfg.Selectors.IndexContainer, n.cfg.IndexTimeout); err != nil {
		return nil, fmt.Errorf("index container did not render: %w", err)
	}

	html, err := n.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	return ParseListingLinks(html, n.cfg.Selectors.IndexContainer, n.cfg.Selectors.ListingLink)
}

// ParseListingLinks returns the href of every listing link inside the index
// container, in document order.
func ParseListingLinks(html, container, link string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	var links []string
	doc.Find(container).Find(link).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if href = strings.TrimSpace(href); href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

// IndexPageURL sets the page query parameter on baseURL.
func IndexPageURL(baseURL string, page int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Login signs in with creds and returns to returnURL. Only the first call per
// session does any work; later calls report the first outcome.
func (n *Navigator) Login(ctx context.Context, creds Credentials, returnURL string) error {
	if n.loginAttempted {
		return n.loginErr
	}
	n.loginAttempted = true

	n.loginErr = n.login(ctx, creds, returnURL)
	n.loggedIn = n.loginErr == nil
	if n.loginErr != nil {
		n.logger.Error("login failed", "email", creds.Email, "error", n.loginErr)
	}
	return n.loginErr
}

func (n *Navigator) login(ctx context.Context, creds Credentials, returnURL string) error {
	if creds.Empty() {
		return ErrNoCredentials
	}
	if n.page == nil {
		return ErrNotOpen
	}
	sel := n.cfg.Selectors

	if err := n.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := n.page.Click(sel.LoginEntry); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := n.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := n.page.Fill(sel.Username, creds.Email); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := n.page.Fill(sel.Password, creds.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}

	if err := n.pacer.Wait(ctx); err != nil {
		return err
	}
	submit, err := n.page.WaitForSelector(sel.LoginSubmit, n.cfg.LoginTimeout)
	if err != nil {
		return fmt.Errorf("login submit button not found: %w", err)
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	n.logger.Info("login submitted", "email", creds.Email)

	if err := sleep(ctx, n.cfg.LoginSettle); err != nil {
		return err
	}
	if err := n.page.Goto(returnURL); err != nil {
		return fmt.Errorf("failed to return to %s: %w", returnURL, err)
	}
	if current := n.page.URL(); current != returnURL {
		n.logger.Warn("landed on unexpected page after login", "expected", returnURL, "actual", current)
	}
	return nil
}

// LoggedIn reports whether a login succeeded in this session.
func (n *Navigator) LoggedIn() bool {
	return n.loggedIn
}

// Close releases the session. It is safe to call more than once.
func (n *Navigator) Close() error {
	n.closeOnce.Do(func() {
		if n.session == nil {
			return
		}
		metrics.BrowserSessionsOpen.Dec()
		if err := n.session.Close(); err != nil {
			n.closeErr = fmt.Errorf("failed to close session: %w", err)
			n.logger.Warn("session close failed", "error", err)
		}
	})
	return n.closeErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
