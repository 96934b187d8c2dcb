// File: internal/surface/allocator.go
package surface

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/sbrtools/gcbot/internal/config"
)

// NewBrowserContext builds the Chrome allocator and a tab context from the
// browser configuration. The returned cancel func tears down the tab and the
// browser process.
//
// The target surface sits behind aggressive bot detection; the allocator
// flags keep Chrome from advertising automation. Headless mode is supported
// but the SSO step usually needs a visible window for the human.
func NewBrowserContext(parent context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		tabCancel()
		allocCancel()
	}
	return tabCtx, cancel
}
