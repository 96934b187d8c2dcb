// File: internal/surface/surface.go
//
// Package surface abstracts the external interactive system the engine
// drives. The engine only ever talks to the Surface interface; the production
// implementation is a Chrome tab driven over CDP (driver.go), and tests
// substitute scripted doubles.
package surface

import (
	"context"
	"time"
)

// Surface is the capability set the orchestration engine consumes. Element
// addressing is CSS selector plus zero-based index into the matched list;
// operations that take no index act on the first match.
//
// Implementations must be safe for sequential use from a single worker
// goroutine; only the rate-limit signal may be written concurrently (by a
// network observer).
type Surface interface {
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// Count returns the number of elements matching sel.
	Count(ctx context.Context, sel string) (int, error)

	// CountContaining returns the number of elements matching sel whose
	// rendered text contains text.
	CountContaining(ctx context.Context, sel, text string) (int, error)

	// Visible reports whether the first element matching sel exists and is
	// rendered.
	Visible(ctx context.Context, sel string) (bool, error)

	// Text returns the rendered text of the index-th element matching sel.
	Text(ctx context.Context, sel string, index int) (string, error)

	// Click scrolls the index-th element matching sel into view and clicks
	// it. Missing element is an error.
	Click(ctx context.Context, sel string, index int) error

	// ClickContaining clicks the first visible element matching sel whose
	// text contains text. Returns (false, nil) when no such element exists.
	ClickContaining(ctx context.Context, sel, text string) (bool, error)

	// Fill sets the value of the first element matching sel and fires the
	// input/change events the page's framework listens for.
	Fill(ctx context.Context, sel, value string) error

	// InputValue returns the current value of the first element matching sel,
	// or "" when the element is missing.
	InputValue(ctx context.Context, sel string) (string, error)

	// SelectValue selects the option with the given value attribute on the
	// first <select> matching sel. Returns (false, nil) when no such option.
	SelectValue(ctx context.Context, sel, value string) (bool, error)

	// SelectLabel selects the option whose label text equals label. Returns
	// (false, nil) when no such option.
	SelectLabel(ctx context.Context, sel, label string) (bool, error)

	// PressKey dispatches a trusted key event (e.g. "\r" for Enter) to the
	// focused element.
	PressKey(ctx context.Context, key string) error

	// Evaluate runs a script in the page and optionally unmarshals its result
	// into out (pass nil when no result is expected).
	Evaluate(ctx context.Context, script string, out any) error

	// RemoveNodes deletes every element matching sel from the document. The
	// forceful fallback for overlays that refuse to close.
	RemoveNodes(ctx context.Context, sel string) error

	// ClearCookies drops all browser cookies, forcing a fresh session on the
	// next navigation.
	ClearCookies(ctx context.Context) error

	// RateLimit reports whether a rate-limit response has been observed since
	// the last ClearRateLimit, along with the server's advisory wait (zero
	// when none was sent).
	RateLimit() (bool, time.Duration)

	// ClearRateLimit resets the rate-limit signal.
	ClearRateLimit()
}

// ActivityProbe is implemented by surfaces that can report human interaction
// with credential- or OTP-shaped inputs, so that a person typing a one-time
// code is never treated as idle.
type ActivityProbe interface {
	// InstallActivityProbe registers onActivity to be invoked whenever a
	// relevant input receives user input. Installed once per browser session.
	InstallActivityProbe(ctx context.Context, onActivity func()) error
}
