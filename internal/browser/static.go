package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// StaticDocument is a captured page served by StaticLauncher.
//
// Elements carrying a data-lazy="N" attribute stay invisible to lookups until
// the page has been scrolled N times. OnClick maps a selector to an HTML
// fragment appended to <body> when that selector is clicked.
type StaticDocument struct {
	HTML    string
	OnClick map[string]string
}

// StaticLauncher replays captured HTML instead of driving a real browser.
// Every session gets its own parsed copy of the documents it visits.
type StaticLauncher struct {
	mu        sync.RWMutex
	documents map[string]StaticDocument
	userAgent string

	open     atomic.Int64
	maxOpen  atomic.Int64
	launched atomic.Int64
}

func NewStaticLauncher(documents map[string]StaticDocument) *StaticLauncher {
	docs := make(map[string]StaticDocument, len(documents))
	for url, doc := range documents {
		docs[url] = doc
	}
	return &StaticLauncher{
		documents: docs,
		userAgent: pickUserAgent(DefaultUserAgents()),
	}
}

// Register adds or replaces the document served for url.
func (l *StaticLauncher) Register(url string, doc StaticDocument) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.documents[url] = doc
}

func (l *StaticLauncher) document(url string) (StaticDocument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.documents[url]
	return doc, ok
}

func (l *StaticLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := l.open.Add(1)
	for {
		peak := l.maxOpen.Load()
		if n <= peak || l.maxOpen.CompareAndSwap(peak, n) {
			break
		}
	}
	l.launched.Add(1)

	return &staticSession{
		launcher: l,
		page:     &StaticPage{launcher: l, userAgent: l.userAgent},
	}, nil
}

// OpenSessions reports how many sessions are currently open.
func (l *StaticLauncher) OpenSessions() int { return int(l.open.Load()) }

// MaxOpenSessions reports the highest number of simultaneously open sessions.
func (l *StaticLauncher) MaxOpenSessions() int { return int(l.maxOpen.Load()) }

// Launched reports how many sessions were started in total.
func (l *StaticLauncher) Launched() int { return int(l.launched.Load()) }

type staticSession struct {
	launcher *StaticLauncher
	page     *StaticPage
	closed   atomic.Bool
}

func (s *staticSession) Page() Page { return s.page }

func (s *staticSession) UserAgent() string { return s.page.userAgent }

func (s *staticSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.launcher.open.Add(-1)
	}
	return nil
}

// StaticPage is a Page over a goquery document.
type StaticPage struct {
	launcher  *StaticLauncher
	userAgent string

	mu      sync.Mutex
	url     string
	doc     *goquery.Document
	onClick map[string]string
	scrolls int
	clicks  []string
}

func (p *StaticPage) Goto(url string) error {
	src, ok := p.launcher.document(url)
	if !ok {
		return fmt.Errorf("failed to navigate to %s: 404 not found", url)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src.HTML))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.doc = doc
	p.onClick = src.OnClick
	p.scrolls = 0
	return nil
}

func (p *StaticPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// find returns the visible matches of selector. Callers hold p.mu.
func (p *StaticPage) find(selector string) *goquery.Selection {
	if p.doc == nil {
		return &goquery.Selection{}
	}
	scrolls := p.scrolls
	return p.doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		for n := s; n.Length() > 0; n = n.Parent() {
			raw, ok := n.Attr("data-lazy")
			if !ok {
				continue
			}
			need, err := strconv.Atoi(raw)
			if err == nil && scrolls < need {
				return false
			}
		}
		return true
	})
}

func (p *StaticPage) WaitForSelector(selector string, _ time.Duration) (Element, error) {
	return p.QuerySelector(selector)
}

func (p *StaticPage) QuerySelector(selector string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel := p.find(selector)
	if sel.Length() == 0 {
		return nil, ErrNotFound
	}
	return &staticElement{page: p, selection: sel.First(), selector: selector}, nil
}

func (p *StaticPage) QuerySelectorAll(selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var elements []Element
	p.find(selector).Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, &staticElement{page: p, selection: s, selector: selector})
	})
	return elements, nil
}

func (p *StaticPage) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.find(selector).Length() == 0 {
		return ErrNotFound
	}
	p.clicks = append(p.clicks, selector)
	if fragment, ok := p.onClick[selector]; ok {
		p.doc.Find("body").AppendHtml(fragment)
	}
	return nil
}

func (p *StaticPage) Fill(selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel := p.find(selector)
	if sel.Length() == 0 {
		return ErrNotFound
	}
	sel.First().SetAttr("value", value)
	return nil
}

func (p *StaticPage) ScrollBy(_ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *StaticPage) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	return p.doc.Html()
}

func (p *StaticPage) UserAgent() (string, error) {
	return p.userAgent, nil
}

// Clicks returns the selectors clicked so far, in order.
func (p *StaticPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.clicks))
	copy(out, p.clicks)
	return out
}

// Scrolls returns how many times the page was scrolled since the last Goto.
func (p *StaticPage) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

type staticElement struct {
	page      *StaticPage
	selection *goquery.Selection
	selector  string
}

func (e *staticElement) TextContent() (string, error) {
	return e.selection.Text(), nil
}

func (e *staticElement) GetAttribute(name string) (string, error) {
	v, _ := e.selection.Attr(name)
	return v, nil
}

func (e *staticElement) Click() error {
	return e.page.Click(e.selector)
}
