// Package listing scrapes one listing detail page into a seller and product
// record, one isolated step at a time.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/extract"
	"github.com/maltedev/olx-listing-scraper/internal/models"
	"github.com/maltedev/olx-listing-scraper/internal/navigator"
	"github.com/maltedev/olx-listing-scraper/internal/ratelimit"
)

// Selectors addresses every field on a listing detail page.
type Selectors struct {
	SellerName     string
	SellerRating   string
	RegisteredDate string
	LastActive     string
	Location       string
	Region         string
	Published      string
	Title          string
	Price          string
	Description    string
	SiteID         string
	Views          string
	Images         string
	Attributes     string
	Delivery       string
	PhoneButton    string
	PhoneNumber    string
}

func DefaultSelectors() Selectors {
	return Selectors{
		SellerName:     `h4[class="css-1lcz6o7"]`,
		SellerRating:   `p[class="css-9pgvpt"]`,
		RegisteredDate: `p[class="css-23d1vy"]`,
		LastActive:     `span[class="css-1p85e15"]`,
		Location:       `p[class="css-1cju8pu"]`,
		Region:         `div.css-13l8eec p.css-b5m1rv`,
		Published:      `span[class="css-19yf5ek"]`,
		Title:          `h4[class="css-1kc83jo"]`,
		Price:          `h3[class="css-90xrc0"]`,
		Description:    `div[class="css-1o924a9"]`,
		SiteID:         `span[class="css-12hdxwj"]`,
		Views:          `span[data-testid="page-view-counter"]`,
		Images:         `div.swiper-wrapper div.swiper-zoom-container img`,
		Attributes:     `ul.css-rn93um > li.css-1r0si1e > p.css-b5m1rv`,
		Delivery:       `ul.css-rn93um > div[data-testid="courier-btn"]`,
		PhoneButton:    `button.css-72jcbl`,
		PhoneNumber:    `a.css-1dvqodz`,
	}
}

type Config struct {
	Selectors          Selectors
	PhoneButtonTimeout time.Duration
	PhoneRevealTimeout time.Duration
	LoginEnabled       bool
}

func DefaultConfig() Config {
	return Config{
		Selectors:          DefaultSelectors(),
		PhoneButtonTimeout: 5 * time.Second,
		PhoneRevealTimeout: 3 * time.Second,
	}
}

// Session is the part of a navigator the scraper needs.
type Session interface {
	Page() browser.Page
	Login(ctx context.Context, creds navigator.Credentials, returnURL string) error
}

// Target identifies the listing to scrape.
type Target struct {
	Link        string
	URL         string
	Credentials navigator.Credentials
}

// StepError records a step that did not complete.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }

// State accumulates everything learned about one listing.
type State struct {
	Link     string
	Seller   models.Seller
	Product  models.Product
	Outcomes map[string]extract.Result
	Steps    []StepError
	LoggedIn bool
}

func newState(link, pageURL string) *State {
	return &State{
		Link: link,
		Product: models.Product{
			URL:        pageURL,
			ImageURLs:  []string{},
			Attributes: map[string]string{},
		},
		Outcomes: make(map[string]extract.Result),
	}
}

// Record returns the record built from the state.
func (s *State) Record() *models.Record {
	return &models.Record{
		Link:    s.Link,
		Seller:  s.Seller,
		Product: s.Product,
	}
}

// Err joins the errors of every failed step, or returns nil.
func (s *State) Err() error {
	errs := make([]error, 0, len(s.Steps))
	for _, step := range s.Steps {
		errs = append(errs, step)
	}
	return errors.Join(errs...)
}

type Scraper struct {
	cfg    Config
	policy extract.Policy
	pacer  ratelimit.Pacer
	logger *slog.Logger
}

// New returns a scraper. A nil pacer disables pacing between steps.
func New(cfg Config, policy extract.Policy, pacer ratelimit.Pacer, logger *slog.Logger) *Scraper {
	if pacer == nil {
		pacer = ratelimit.Jitter{}
	}
	return &Scraper{
		cfg:    cfg,
		policy: policy,
		pacer:  pacer,
		logger: logger.With("component", "listing_scraper"),
	}
}

type step struct {
	name string
	run  func(ctx context.Context, r *run) error
}

// run is the per-listing working set shared by the steps.
type run struct {
	sel       Selectors
	page      browser.Page
	ex        *extract.Extractor
	phone     *extract.Extractor
	phoneWait time.Duration
	state     *State
	logger    *slog.Logger
}

func (r *run) field(ctx context.Context, name string, loc extract.Locator, opts extract.Options) *string {
	res := r.ex.Extract(ctx, loc, opts)
	r.state.Outcomes[name] = res
	return res.Ptr()
}

func (s *Scraper) steps() []step {
	return []step{
		{name: "seller", run: scrapeSeller},
		{name: "address", run: scrapeAddress},
		{name: "product", run: scrapeProduct},
		{name: "images", run: scrapeImages},
		{name: "info", run: scrapeInfo},
		{name: "phone", run: scrapePhone},
	}
}

// Scrape extracts a listing from the already opened session. It never fails
// as a whole: each step's error is recorded on the returned state.
func (s *Scraper) Scrape(ctx context.Context, sess Session, target Target) *State {
	state := newState(target.Link, target.URL)
	logger := s.logger.With("link", target.Link)

	page := sess.Page()
	if page == nil {
		state.Steps = append(state.Steps, StepError{Step: "open", Err: navigator.ErrNotOpen})
		return state
	}

	if s.cfg.LoginEnabled && !target.Credentials.Empty() {
		if err := sess.Login(ctx, target.Credentials, target.URL); err != nil {
			logger.Warn("continuing without login", "error", err)
		} else {
			state.LoggedIn = true
		}
	}

	phonePolicy := s.policy
	phonePolicy.LookupTimeout = s.cfg.PhoneRevealTimeout

	r := &run{
		sel:       s.cfg.Selectors,
		page:      page,
		ex:        extract.New(page, s.policy, logger),
		phone:     extract.New(page, phonePolicy, logger),
		phoneWait: s.cfg.PhoneButtonTimeout,
		state:     state,
		logger:    logger,
	}

	for i, st := range s.steps() {
		if i > 0 {
			if err := s.pacer.Wait(ctx); err != nil {
				state.Steps = append(state.Steps, StepError{Step: st.name, Err: err})
				break
			}
		}
		if err := s.runStep(ctx, r, st); err != nil {
			logger.Error("step failed", "step", st.name, "error", err)
			state.Steps = append(state.Steps, StepError{Step: st.name, Err: err})
		}
	}

	return state
}

func (s *Scraper) runStep(ctx context.Context, r *run, st step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("step panicked", "step", st.name, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return st.run(ctx, r)
}

func scrapeSeller(ctx context.Context, r *run) error {
	seller := &r.state.Seller
	seller.Name = r.field(ctx, "seller_name", extract.Locator{Selector: r.sel.SellerName}, extract.Options{})
	seller.Rating = r.field(ctx, "rating", extract.Locator{Selector: r.sel.SellerRating}, extract.Options{})
	seller.RegisteredDate = r.field(ctx, "registered_date", extract.Locator{Selector: r.sel.RegisteredDate}, extract.Options{})
	seller.LastActiveDate = r.field(ctx, "last_active_date", extract.Locator{Selector: r.sel.LastActive}, extract.Options{})
	return nil
}

func scrapeAddress(ctx context.Context, r *run) error {
	seller := &r.state.Seller
	seller.Location = r.field(ctx, "location", extract.Locator{Selector: r.sel.Location}, extract.Options{})
	seller.Region = r.field(ctx, "region", extract.Locator{Selector: r.sel.Region}, extract.Options{})
	return nil
}

func scrapeProduct(ctx context.Context, r *run) error {
	product := &r.state.Product
	product.PublishedDate = r.field(ctx, "published_date", extract.Locator{Selector: r.sel.Published}, extract.Options{})
	product.Title = r.field(ctx, "title", extract.Locator{Selector: r.sel.Title}, extract.Options{})
	product.Price = r.field(ctx, "price", extract.Locator{Selector: r.sel.Price}, extract.Options{})
	product.Description = r.field(ctx, "description", extract.Locator{Selector: r.sel.Description}, extract.Options{})
	product.SiteID = r.field(ctx, "site_id", extract.Locator{Selector: r.sel.SiteID}, extract.Options{NumericOnly: true})
	product.ViewsCount = r.field(ctx, "views_count", extract.Locator{Selector: r.sel.Views},
		extract.Options{WaitWithScroll: true, NumericOnly: true})
	return nil
}

func scrapeImages(ctx context.Context, r *run) error {
	urls, err := r.ex.ExtractAll(ctx, extract.Locator{Selector: r.sel.Images, Attribute: "src"})
	r.state.Product.ImageURLs = urls
	return err
}

func scrapeInfo(ctx context.Context, r *run) error {
	rows, err := r.ex.ExtractRows(ctx, extract.Locator{Selector: r.sel.Attributes})
	if err != nil {
		return fmt.Errorf("failed to read attributes: %w", err)
	}
	r.state.Product.TypeItem, r.state.Product.Attributes = ParseAttributes(rows)

	hasCourier, err := r.ex.Exists(r.sel.Delivery)
	if err != nil {
		r.state.Product.Delivery = models.DeliveryNo
		return fmt.Errorf("failed to check delivery: %w", err)
	}
	r.state.Product.Delivery = models.Delivery(hasCourier)
	return nil
}

func scrapePhone(ctx context.Context, r *run) error {
	seller := &r.state.Seller

	if _, err := r.page.WaitForSelector(r.sel.PhoneButton, r.phoneWait); err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			r.logger.Warn("phone reveal control not found")
			seller.Phone = models.PhoneNotOffered
			return nil
		}
		return fmt.Errorf("failed to look up phone control: %w", err)
	}

	if err := r.page.Click(r.sel.PhoneButton); err != nil {
		seller.Phone = models.PhoneHidden
		seller.PhoneNumber = nil
		return fmt.Errorf("failed to click phone control: %w", err)
	}

	res := r.phone.Extract(ctx, extract.Locator{Selector: r.sel.PhoneNumber}, extract.Options{})
	r.state.Outcomes["phone_number"] = res
	if !res.Present() {
		seller.Phone = models.PhoneHidden
		seller.PhoneNumber = nil
		return nil
	}

	seller.Phone = models.PhoneRevealed
	seller.PhoneNumber = res.Ptr()
	return nil
}

// ParseAttributes splits the attribute rows of a listing. The first row is
// the item type even when blank; later rows of the form "key: value" become
// attributes and rows without a colon are dropped. A row such as ": value"
// is kept under the empty key.
func ParseAttributes(rows []string) (*string, map[string]string) {
	attrs := make(map[string]string)
	if len(rows) == 0 {
		return nil, attrs
	}

	typeItem := models.String(strings.TrimSpace(rows[0]))
	for _, row := range rows[1:] {
		key, value, ok := strings.Cut(row, ":")
		if !ok {
			continue
		}
		attrs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return typeItem, attrs
}
