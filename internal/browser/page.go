package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector matched nothing within its timeout.
var ErrNotFound = errors.New("element not found")

// Element is a handle to one rendered DOM element.
type Element interface {
	TextContent() (string, error)
	GetAttribute(name string) (string, error)
	Click() error
}

// Page is the subset of a browser tab the scraper drives.
type Page interface {
	Goto(url string) error
	URL() string
	// WaitForSelector blocks until selector is attached or timeout elapses,
	// returning ErrNotFound in the latter case.
	WaitForSelector(selector string, timeout time.Duration) (Element, error)
	// QuerySelector returns ErrNotFound when nothing matches right now.
	QuerySelector(selector string) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
	Click(selector string) error
	Fill(selector, value string) error
	ScrollBy(deltaY float64) error
	Content() (string, error)
	UserAgent() (string, error)
}

// Session is one browser instance with a single isolated context and page.
type Session interface {
	Page() Page
	UserAgent() string
	Close() error
}

// Launcher starts fresh sessions. Implementations must be safe for concurrent
// use by multiple goroutines.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
