// Package extract reads rendered text and attributes from a browser page
// without ever failing the caller: every lookup degrades to an absent value.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/olx-listing-scraper/internal/browser"
	"github.com/maltedev/olx-listing-scraper/internal/metrics"
)

// Status is the outcome kind of a single field lookup.
type Status int

const (
	Absent Status = iota
	Present
	Failed
)

func (s Status) String() string {
	switch s {
	case Present:
		return "present"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// Result is the outcome of one lookup. Value is only meaningful when Status is
// Present; Err is set when Status is Failed.
type Result struct {
	Status Status
	Value  string
	Err    error
}

// Ptr returns the value as an optional string.
func (r Result) Ptr() *string {
	if r.Status != Present {
		return nil
	}
	v := r.Value
	return &v
}

func (r Result) Present() bool { return r.Status == Present }

// Locator addresses a field. An empty Attribute reads the text content.
type Locator struct {
	Selector  string
	Attribute string
}

func (l Locator) String() string {
	if l.Attribute == "" {
		return l.Selector
	}
	return fmt.Sprintf("%s@%s", l.Selector, l.Attribute)
}

type Options struct {
	// WaitWithScroll probes repeatedly, scrolling between attempts, for
	// elements that only render once scrolled into view.
	WaitWithScroll bool
	// NumericOnly keeps only the first run of digits in the text.
	NumericOnly bool
}

// Policy holds the timing knobs of a lookup.
type Policy struct {
	LookupTimeout  time.Duration
	ScrollAttempts int
	ProbeTimeout   time.Duration
	ScrollPause    time.Duration
	ScrollStep     float64
}

func DefaultPolicy() Policy {
	return Policy{
		LookupTimeout:  5 * time.Second,
		ScrollAttempts: 20,
		ProbeTimeout:   1000 * time.Millisecond,
		ScrollPause:    200 * time.Millisecond,
		ScrollStep:     400,
	}
}

type Extractor struct {
	page   browser.Page
	policy Policy
	logger *slog.Logger
}

func New(page browser.Page, policy Policy, logger *slog.Logger) *Extractor {
	return &Extractor{
		page:   page,
		policy: policy,
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns the trimmed text (or attribute) addressed by loc.
func (e *Extractor) Extract(ctx context.Context, loc Locator, opts Options) Result {
	res := e.extract(ctx, loc, opts)
	metrics.FieldExtractions.WithLabelValues(res.Status.String()).Inc()

	switch res.Status {
	case Absent:
		e.logger.Warn("field absent", "selector", loc.String())
	case Failed:
		e.logger.Warn("field lookup failed", "selector", loc.String(), "error", res.Err)
	}
	return res
}

func (e *Extractor) extract(ctx context.Context, loc Locator, opts Options) Result {
	var (
		el  browser.Element
		err error
	)
	if opts.WaitWithScroll {
		el, err = e.waitWithScroll(ctx, loc.Selector)
	} else {
		el, err = e.page.WaitForSelector(loc.Selector, e.policy.LookupTimeout)
	}
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return Result{Status: Absent}
		}
		return Result{Status: Failed, Err: err}
	}

	raw, err := read(el, loc.Attribute)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}

	value := strings.TrimSpace(raw)
	if opts.NumericOnly {
		digits, ok := FirstDigits(value)
		if !ok {
			return Result{Status: Absent}
		}
		value = digits
	}
	if value == "" {
		return Result{Status: Absent}
	}
	return Result{Status: Present, Value: value}
}

func (e *Extractor) waitWithScroll(ctx context.Context, selector string) (browser.Element, error) {
	for attempt := 0; attempt < e.policy.ScrollAttempts; attempt++ {
		el, err := e.page.WaitForSelector(selector, e.policy.ProbeTimeout)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return nil, err
		}

		if err := e.page.ScrollBy(e.policy.ScrollStep); err != nil {
			return nil, fmt.Errorf("failed to scroll: %w", err)
		}
		if err := sleep(ctx, e.policy.ScrollPause); err != nil {
			return nil, err
		}
	}
	return nil, browser.ErrNotFound
}

// ExtractAll returns the trimmed, non-empty values of every element matching
// loc, in document order. The error is only set when the page itself could
// not be queried.
func (e *Extractor) ExtractAll(ctx context.Context, loc Locator) ([]string, error) {
	return e.collect(ctx, loc, false)
}

// ExtractRows is ExtractAll without dropping blank values, so positions
// match the matched elements. Elements that cannot be read still yield "".
func (e *Extractor) ExtractRows(ctx context.Context, loc Locator) ([]string, error) {
	return e.collect(ctx, loc, true)
}

func (e *Extractor) collect(ctx context.Context, loc Locator, keepEmpty bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return []string{}, err
	}

	elements, err := e.page.QuerySelectorAll(loc.Selector)
	if err != nil {
		e.logger.Warn("collection lookup failed", "selector", loc.String(), "error", err)
		return []string{}, err
	}

	values := make([]string, 0, len(elements))
	for _, el := range elements {
		raw, err := read(el, loc.Attribute)
		if err != nil {
			e.logger.Warn("failed to read collection item", "selector", loc.String(), "error", err)
			raw = ""
		}
		if v := strings.TrimSpace(raw); v != "" || keepEmpty {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		e.logger.Warn("collection empty", "selector", loc.String())
	}
	return values, nil
}

// Exists reports whether selector currently matches an element.
func (e *Extractor) Exists(selector string) (bool, error) {
	_, err := e.page.QuerySelector(selector)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, browser.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func read(el browser.Element, attribute string) (string, error) {
	if attribute == "" {
		return el.TextContent()
	}
	return el.GetAttribute(attribute)
}

// FirstDigits returns the first contiguous run of ASCII digits in s.
func FirstDigits(s string) (string, bool) {
	start := -1
	for i := 0; i < len(s); i++ {
		isDigit := s[i] >= '0' && s[i] <= '9'
		switch {
		case isDigit && start < 0:
			start = i
		case !isDigit && start >= 0:
			return s[start:i], true
		}
	}
	if start >= 0 {
		return s[start:], true
	}
	return "", false
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
