// File: internal/surface/surfacetest/fake.go
//
// Package surfacetest provides a scripted Surface double for engine tests.
// State lives in plain maps the test mutates; optional hook functions let a
// test react to actions (a click that changes the page URL, a navigation
// that renders a form) the way the real surface would.
package surfacetest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake implements surface.Surface with scripted state.
//
// Containing-count and containing-click lookups use Key(sel, text) as the
// map key. All fields are safe to mutate from hooks; every method takes the
// same lock.
type Fake struct {
	mu sync.Mutex

	// Scripted page state.
	URL        string
	Counts     map[string]int
	Containing map[string]int // Key(sel, text) -> count
	Visibility map[string]bool
	Texts      map[string][]string          // sel -> text per index
	Inputs     map[string]string            // sel -> current value
	Options    map[string]map[string]string // sel -> option value -> label

	// Recorded actions.
	Clicks      []string // "sel" or "sel#idx" or Key(sel, text)
	FillLog     []string // "sel=value"
	Keys        []string
	Navigations []string
	Removed     []string
	Scripts     []string
	CookieDrops int

	rateLimited bool
	retryAfter  time.Duration

	// Hooks, called after the action is recorded. Any may be nil.
	OnNavigate func(url string)
	OnClick    func(sel string, index int)
	OnFill     func(sel, value string)
	OnEvaluate func(script string, out any) error
}

// NewFake returns a Fake with all maps allocated.
func NewFake() *Fake {
	return &Fake{
		Counts:     make(map[string]int),
		Containing: make(map[string]int),
		Visibility: make(map[string]bool),
		Texts:      make(map[string][]string),
		Inputs:     make(map[string]string),
		Options:    make(map[string]map[string]string),
	}
}

// Key builds the lookup key for text-containing queries.
func Key(sel, text string) string {
	return sel + "\x00" + text
}

func (f *Fake) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

// SetURL updates the scripted page URL.
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	f.URL = url
	f.mu.Unlock()
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.Navigations = append(f.Navigations, url)
	f.URL = url
	hook := f.OnNavigate
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return nil
}

func (f *Fake) Count(_ context.Context, sel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Counts[sel], nil
}

func (f *Fake) CountContaining(_ context.Context, sel, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Containing[Key(sel, text)], nil
}

func (f *Fake) Visible(_ context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Visibility[sel], nil
}

func (f *Fake) Text(_ context.Context, sel string, index int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := f.Texts[sel]
	if index < 0 || index >= len(texts) {
		return "", fmt.Errorf("no element %q[%d]", sel, index)
	}
	return texts[index], nil
}

func (f *Fake) Click(_ context.Context, sel string, index int) error {
	f.mu.Lock()
	entry := sel
	if index > 0 {
		entry = fmt.Sprintf("%s#%d", sel, index)
	}
	f.Clicks = append(f.Clicks, entry)
	hook := f.OnClick
	f.mu.Unlock()
	if hook != nil {
		hook(sel, index)
	}
	return nil
}

func (f *Fake) ClickContaining(_ context.Context, sel, text string) (bool, error) {
	f.mu.Lock()
	key := Key(sel, text)
	if f.Containing[key] == 0 {
		f.mu.Unlock()
		return false, nil
	}
	f.Clicks = append(f.Clicks, key)
	hook := f.OnClick
	f.mu.Unlock()
	if hook != nil {
		hook(sel, 0)
	}
	return true, nil
}

func (f *Fake) Fill(_ context.Context, sel, value string) error {
	f.mu.Lock()
	f.FillLog = append(f.FillLog, sel+"="+value)
	f.Inputs[sel] = value
	hook := f.OnFill
	f.mu.Unlock()
	if hook != nil {
		hook(sel, value)
	}
	return nil
}

func (f *Fake) InputValue(_ context.Context, sel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Inputs[sel], nil
}

func (f *Fake) SelectValue(_ context.Context, sel, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts := f.Options[sel]
	if _, ok := opts[value]; !ok {
		return false, nil
	}
	f.Inputs[sel] = value
	return true, nil
}

func (f *Fake) SelectLabel(_ context.Context, sel, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for value, l := range f.Options[sel] {
		if l == label {
			f.Inputs[sel] = value
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) PressKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keys = append(f.Keys, key)
	return nil
}

func (f *Fake) Evaluate(_ context.Context, script string, out any) error {
	f.mu.Lock()
	f.Scripts = append(f.Scripts, script)
	hook := f.OnEvaluate
	f.mu.Unlock()
	if hook != nil {
		return hook(script, out)
	}
	return nil
}

func (f *Fake) RemoveNodes(_ context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, sel)
	f.Visibility[sel] = false
	f.Counts[sel] = 0
	return nil
}

func (f *Fake) ClearCookies(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CookieDrops++
	return nil
}

// SetRateLimit arms the rate-limit signal with the given advisory wait.
func (f *Fake) SetRateLimit(retryAfter time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimited = true
	f.retryAfter = retryAfter
}

func (f *Fake) RateLimit() (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rateLimited, f.retryAfter
}

func (f *Fake) ClearRateLimit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimited = false
	f.retryAfter = 0
}
