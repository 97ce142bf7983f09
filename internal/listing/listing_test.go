package listing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/extract"
	"github.com/maltedev/olx-listing-scraper/internal/models"
	"github.com/maltedev/olx-listing-scraper/internal/navigator"
)

const (
	link    = "/d/uk/obyavlenie/velosiped-trek-marlin-5-IDX1.html"
	pageURL = "https://www.olx.test" + link
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() extract.Policy {
	policy := extract.DefaultPolicy()
	policy.LookupTimeout = 10 * time.Millisecond
	policy.ProbeTimeout = time.Millisecond
	policy.ScrollPause = 0
	return policy
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PhoneButtonTimeout = 10 * time.Millisecond
	cfg.PhoneRevealTimeout = 10 * time.Millisecond
	return cfg
}

func loadFixture(t *testing.T) string {
	t.Helper()
	html, err := os.ReadFile("testdata/listing.html")
	require.NoError(t, err)
	return string(html)
}

func openListing(t *testing.T, doc browser.StaticDocument) *navigator.Navigator {
	t.Helper()
	launcher := browser.NewStaticLauncher(map[string]browser.StaticDocument{pageURL: doc})

	cfg := navigator.DefaultConfig()
	cfg.LoginSettle = 0
	nav := navigator.New(launcher, cfg, nil, testLogger())
	t.Cleanup(func() { nav.Close() })

	require.NoError(t, nav.Open(context.Background(), pageURL))
	return nav
}

func TestScrape_FullListing(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: loadFixture(t),
		OnClick: map[string]string{
			"button.css-72jcbl": `<a class="css-1dvqodz" href="tel:0501234567">050 123 4567</a>`,
		},
	})

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{Link: link, URL: pageURL})
	require.Empty(t, state.Steps)

	seller := state.Seller
	assert.Equal(t, "Олександр", models.Deref(seller.Name))
	assert.Equal(t, "4.8", models.Deref(seller.Rating))
	assert.Equal(t, "На OLX з травень 2019 р.", models.Deref(seller.RegisteredDate))
	assert.Equal(t, "Онлайн вчора о 21:14", models.Deref(seller.LastActiveDate))
	assert.Equal(t, "Київ, Шевченківський", models.Deref(seller.Location))
	assert.Equal(t, "Київська область", models.Deref(seller.Region))
	assert.Equal(t, models.PhoneRevealed, seller.Phone)
	assert.Equal(t, "050 123 4567", models.Deref(seller.PhoneNumber))

	product := state.Product
	assert.Equal(t, "Велосипед гірський Trek Marlin 5", models.Deref(product.Title))
	assert.Equal(t, "14 500 грн.", models.Deref(product.Price))
	assert.Equal(t, "Опубліковано 12 жовтня 2026 р.", models.Deref(product.PublishedDate))
	assert.Contains(t, models.Deref(product.Description), "Продаю велосипед")
	assert.Equal(t, "84213772", models.Deref(product.SiteID))
	assert.Equal(t, "254", models.Deref(product.ViewsCount))
	assert.Equal(t, []string{
		"https://ireland.apollo.olxcdn.com/v1/files/1.jpg",
		"https://ireland.apollo.olxcdn.com/v1/files/2.jpg",
		"https://ireland.apollo.olxcdn.com/v1/files/1.jpg",
	}, product.ImageURLs)
	assert.Equal(t, "Приватна особа", models.Deref(product.TypeItem))
	assert.Equal(t, map[string]string{"Стан": "Вживане", "Розмір рами": "L"}, product.Attributes)
	assert.Equal(t, models.DeliveryYes, product.Delivery)
	assert.Equal(t, pageURL, product.URL)

	rec := state.Record()
	assert.Equal(t, link, rec.Link)
	assert.NoError(t, rec.Validate())

	page := nav.Page().(*browser.StaticPage)
	assert.GreaterOrEqual(t, page.Scrolls(), 3)
}

func TestScrape_AbsentFieldsStayNil(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: `<html><body>
			<h4 class="css-1kc83jo">Стіл</h4>
			<span class="css-12hdxwj">ID: 5551</span>
		</body></html>`,
	})

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{Link: link, URL: pageURL})

	assert.Empty(t, state.Steps)
	assert.Nil(t, state.Seller.Name)
	assert.Nil(t, state.Seller.Rating)
	assert.Nil(t, state.Seller.Region)
	assert.Nil(t, state.Product.Price)
	assert.Nil(t, state.Product.ViewsCount)
	assert.Nil(t, state.Product.TypeItem)
	assert.NotNil(t, state.Product.ImageURLs)
	assert.Empty(t, state.Product.ImageURLs)
	assert.Empty(t, state.Product.Attributes)
	assert.Equal(t, models.DeliveryNo, state.Product.Delivery)
	assert.Equal(t, "no", state.Product.Delivery.String())
	assert.Equal(t, models.PhoneNotOffered, state.Seller.Phone)
	assert.Nil(t, state.Seller.PhoneNumber)

	assert.Equal(t, "Стіл", models.Deref(state.Product.Title))
	assert.Equal(t, "5551", models.Deref(state.Product.SiteID))
	assert.Equal(t, extract.Absent, state.Outcomes["price"].Status)
	assert.Equal(t, extract.Present, state.Outcomes["site_id"].Status)
}

func TestScrape_PhoneHiddenAfterClick(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: `<html><body><button class="css-72jcbl">Показати телефон</button></body></html>`,
	})

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{Link: link, URL: pageURL})

	assert.Equal(t, models.PhoneHidden, state.Seller.Phone)
	assert.Nil(t, state.Seller.PhoneNumber)
	assert.Equal(t, []string{"button.css-72jcbl"}, nav.Page().(*browser.StaticPage).Clicks())
}

// clickFailPage refuses every click and behaves like its embedded page
// otherwise.
type clickFailPage struct {
	browser.Page
}

func (clickFailPage) Click(string) error { return errors.New("element detached") }

func TestScrape_PhoneClickFailureRecordsHidden(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: `<html><body><button class="css-72jcbl">Показати телефон</button></body></html>`,
	})
	sess := panickingSession{page: clickFailPage{Page: nav.Page()}}

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), sess, Target{Link: link, URL: pageURL})

	require.Len(t, state.Steps, 1)
	assert.Equal(t, "phone", state.Steps[0].Step)
	assert.Equal(t, models.PhoneHidden, state.Seller.Phone)
	assert.Nil(t, state.Seller.PhoneNumber)
}

func TestScrape_BlankFirstAttributeRowIsTheTypeLabel(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: `<html><body>
			<span class="css-12hdxwj">ID: 5552</span>
			<ul class="css-rn93um">
				<li class="css-1r0si1e"><p class="css-b5m1rv">  </p></li>
				<li class="css-1r0si1e"><p class="css-b5m1rv">Стан: вживаний</p></li>
			</ul>
		</body></html>`,
	})

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{Link: link, URL: pageURL})

	assert.Empty(t, state.Steps)
	assert.Nil(t, state.Product.TypeItem)
	assert.Equal(t, map[string]string{"Стан": "вживаний"}, state.Product.Attributes)
}

func TestScrape_MissingSiteIDFailsValidation(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{
		HTML: `<html><body><span class="css-12hdxwj">ID: немає</span></body></html>`,
	})

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{Link: link, URL: pageURL})

	assert.Nil(t, state.Product.SiteID)
	assert.ErrorIs(t, state.Record().Validate(), models.ErrMissingSiteID)
}

type panickingSession struct {
	page browser.Page
}

func (s panickingSession) Page() browser.Page { return s.page }

func (s panickingSession) Login(context.Context, navigator.Credentials, string) error {
	return errors.New("login disabled")
}

// panicPage panics on collection lookups and behaves like its embedded page
// otherwise.
type panicPage struct {
	browser.Page
}

func (p panicPage) QuerySelectorAll(string) ([]browser.Element, error) {
	panic("renderer crashed")
}

func TestScrape_StepPanicIsIsolated(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{HTML: loadFixture(t)})
	sess := panickingSession{page: panicPage{Page: nav.Page()}}

	state := New(testConfig(), testPolicy(), nil, testLogger()).Scrape(context.Background(), sess, Target{Link: link, URL: pageURL})

	steps := make([]string, 0, len(state.Steps))
	for _, s := range state.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{"images", "info"}, steps)
	assert.Error(t, state.Err())

	// later steps still ran
	assert.Equal(t, "84213772", models.Deref(state.Product.SiteID))
	assert.Equal(t, models.PhoneHidden, state.Seller.Phone)
}

func TestScrape_LoginFailureIsNotFatal(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{HTML: loadFixture(t)})

	cfg := testConfig()
	cfg.LoginEnabled = true

	state := New(cfg, testPolicy(), nil, testLogger()).Scrape(context.Background(), nav, Target{
		Link:        link,
		URL:         pageURL,
		Credentials: navigator.Credentials{Email: "user@example.com", Password: "secret"},
	})

	assert.False(t, state.LoggedIn)
	assert.Empty(t, state.Steps)
	assert.Equal(t, "84213772", models.Deref(state.Product.SiteID))
}

func TestScrape_CancelledBetweenSteps(t *testing.T) {
	nav := openListing(t, browser.StaticDocument{HTML: loadFixture(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := New(testConfig(), testPolicy(), cancelledPacer{}, testLogger()).Scrape(ctx, nav, Target{Link: link, URL: pageURL})

	require.Len(t, state.Steps, 1)
	assert.Equal(t, "address", state.Steps[0].Step)
	assert.ErrorIs(t, state.Err(), context.Canceled)
}

type cancelledPacer struct{}

func (cancelledPacer) Wait(ctx context.Context) error { return ctx.Err() }

func TestParseAttributes(t *testing.T) {
	typeItem, attrs := ParseAttributes([]string{"Запчастини", "Стан: вживаний", "Без опису"})

	require.NotNil(t, typeItem)
	assert.Equal(t, "Запчастини", *typeItem)
	assert.Equal(t, map[string]string{"Стан": "вживаний"}, attrs)
}

func TestParseAttributes_Edges(t *testing.T) {
	typeItem, attrs := ParseAttributes(nil)
	assert.Nil(t, typeItem)
	assert.NotNil(t, attrs)
	assert.Empty(t, attrs)

	typeItem, attrs = ParseAttributes([]string{"Бізнес", "Час роботи: 09:00 - 18:00", ": порожній ключ", "Стан:  Новий "})
	assert.Equal(t, "Бізнес", models.Deref(typeItem))
	assert.Equal(t, map[string]string{
		"Час роботи": "09:00 - 18:00",
		"":           "порожній ключ",
		"Стан":       "Новий",
	}, attrs)

	typeItem, attrs = ParseAttributes([]string{"", "Стан: вживаний"})
	assert.Nil(t, typeItem)
	assert.Equal(t, map[string]string{"Стан": "вживаний"}, attrs)
}
