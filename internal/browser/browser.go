// Package browser defines the primitive set the extraction engine drives:
// navigation, element queries with readiness, element actions, network
// quiescence, and scrolling. Implementations live in subpackages.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that a query matched nothing within its timeout.
	ErrNotFound = errors.New("element not found")
	// ErrUnsupported reports an action the driver cannot perform (e.g. clicks on a static page).
	ErrUnsupported = errors.New("action not supported by driver")
)

// Readiness is the state an element must reach before a query succeeds.
type Readiness int

const (
	// Attached requires the element to exist in the DOM.
	Attached Readiness = iota
	// Visible requires the element to be rendered and visible.
	Visible
)

// String returns the readiness label used in logs.
func (r Readiness) String() string {
	if r == Visible {
		return "visible"
	}
	return "attached"
}

// NavigateOptions bounds a navigation.
type NavigateOptions struct {
	Timeout time.Duration
}

// ScrollState reports the viewport position after a scroll step.
type ScrollState struct {
	Offset   int
	Viewport int
	Height   int
}

// AtBottom reports whether the viewport reached the end of the document.
func (s ScrollState) AtBottom() bool {
	return s.Offset+s.Viewport >= s.Height
}

// Browser hands out pages. Each page is an isolated tab.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one navigable tab.
type Page interface {
	Navigate(ctx context.Context, rawURL string, opts NavigateOptions) error
	URL() string
	// Query returns the first element matching q once it reaches mode, or ErrNotFound.
	Query(ctx context.Context, q Query, mode Readiness, timeout time.Duration) (Element, error)
	// QueryAll returns every element currently matching q without waiting.
	QueryAll(ctx context.Context, q Query) ([]Element, error)
	// Text returns the rendered text of the whole document.
	Text(ctx context.Context) (string, error)
	WaitNetworkIdle(ctx context.Context, idle, timeout time.Duration) error
	Scroll(ctx context.Context, dy int) (ScrollState, error)
	Close() error
}

// Element is a handle to one node on a page.
type Element interface {
	Fill(ctx context.Context, value string) error
	Click(ctx context.Context) error
	// Submit sends a keyboard submit (Enter) to the element.
	Submit(ctx context.Context) error
	// SelectLabel picks the first option whose visible label matches pattern.
	SelectLabel(ctx context.Context, pattern string) error
	Attribute(ctx context.Context, name string) (string, bool, error)
	Text(ctx context.Context) (string, error)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
