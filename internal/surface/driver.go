// File: internal/surface/driver.go
package surface

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// retryAfterCap bounds the advisory wait parsed from a Retry-After header.
const retryAfterCap = 120 * time.Second

// Driver implements Surface on top of a chromedp tab context.
type Driver struct {
	ctx        context.Context
	logger     *zap.Logger
	navTimeout time.Duration

	mu          sync.Mutex
	rateLimited bool
	retryAfter  time.Duration
}

var _ Surface = (*Driver)(nil)
var _ ActivityProbe = (*Driver)(nil)

// NewDriver wraps an initialized chromedp tab context. StartNetworkObserver
// must be called before the first navigation so no response escapes the
// rate-limit hook.
func NewDriver(tabCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	navTimeout := cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	return &Driver{
		ctx:        tabCtx,
		logger:     logger.Named("surface"),
		navTimeout: navTimeout,
	}
}

// StartNetworkObserver enables CDP network events and watches every response
// for rate-limit status codes. A 429 raises the rate-limit signal and records
// the server's Retry-After hint when present.
func (d *Driver) StartNetworkObserver() error {
	if err := chromedp.Run(d.ctx, network.Enable()); err != nil {
		return fmt.Errorf("failed to enable network events: %w", err)
	}

	chromedp.ListenTarget(d.ctx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil {
			return
		}
		if resp.Response.Status != 429 {
			return
		}

		advisory := parseRetryAfter(resp.Response.Headers)

		d.mu.Lock()
		d.rateLimited = true
		if advisory > d.retryAfter {
			d.retryAfter = advisory
		}
		d.mu.Unlock()

		d.logger.Warn("Rate-limit response observed.",
			zap.String("url", resp.Response.URL),
			zap.Duration("retry_after", advisory))
	})
	return nil
}

// parseRetryAfter extracts a Retry-After duration from response headers.
// A one second buffer is added and the result is capped; the real cool-down
// schedule lives in the pipeline's backoff, this is only the advisory hint.
func parseRetryAfter(headers network.Headers) time.Duration {
	for k, v := range headers {
		if !strings.EqualFold(k, "retry-after") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || secs < 0 {
			continue
		}
		wait := time.Duration(secs+1) * time.Second
		if wait > retryAfterCap {
			wait = retryAfterCap
		}
		return wait
	}
	return 0
}

// RateLimit implements Surface.
func (d *Driver) RateLimit() (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLimited, d.retryAfter
}

// ClearRateLimit implements Surface.
func (d *Driver) ClearRateLimit() {
	d.mu.Lock()
	d.rateLimited = false
	d.retryAfter = 0
	d.mu.Unlock()
}

// run executes chromedp actions under both the tab context and the caller's
// context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// Location implements Surface.
func (d *Driver) Location(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Navigate implements Surface.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
	defer cancel()
	if err := d.run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %s: %w", url, d.navTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Count implements Surface.
func (d *Driver) Count(ctx context.Context, sel string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsStr(sel))
	if err := d.Evaluate(ctx, script, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountContaining implements Surface.
func (d *Driver) CountContaining(ctx context.Context, sel, text string) (int, error) {
	var n int
	script := fmt.Sprintf(`
		(() => {
			const needle = %s;
			let n = 0;
			document.querySelectorAll(%s).forEach((el) => {
				if ((el.innerText || el.textContent || "").includes(needle)) n++;
			});
			return n;
		})()`, jsStr(text), jsStr(sel))
	if err := d.Evaluate(ctx, script, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Visible implements Surface.
func (d *Driver) Visible(ctx context.Context, sel string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			if (el.getClientRects().length === 0) return false;
			return getComputedStyle(el).visibility !== "hidden";
		})()`, jsStr(sel))
	if err := d.Evaluate(ctx, script, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// Text implements Surface.
func (d *Driver) Text(ctx context.Context, sel string, index int) (string, error) {
	var text string
	script := fmt.Sprintf(`
		(() => {
			const els = document.querySelectorAll(%s);
			const el = els[%d];
			if (!el) return "";
			return el.innerText || el.textContent || "";
		})()`, jsStr(sel), index)
	if err := d.Evaluate(ctx, script, &text); err != nil {
		return "", err
	}
	return text, nil
}

// Click implements Surface.
func (d *Driver) Click(ctx context.Context, sel string, index int) error {
	var clicked bool
	script := fmt.Sprintf(`
		(() => {
			const els = document.querySelectorAll(%s);
			const el = els[%d];
			if (!el) return false;
			el.scrollIntoView({block: "center"});
			el.click();
			return true;
		})()`, jsStr(sel), index)
	if err := d.Evaluate(ctx, script, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no element at %q[%d] to click", sel, index)
	}
	return nil
}

// ClickContaining implements Surface.
func (d *Driver) ClickContaining(ctx context.Context, sel, text string) (bool, error) {
	var clicked bool
	script := fmt.Sprintf(`
		(() => {
			const needle = %s;
			const els = document.querySelectorAll(%s);
			for (const el of els) {
				if (!(el.innerText || el.textContent || "").includes(needle)) continue;
				if (el.getClientRects().length === 0) continue;
				el.scrollIntoView({block: "center"});
				el.click();
				return true;
			}
			return false;
		})()`, jsStr(text), jsStr(sel))
	if err := d.Evaluate(ctx, script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// Fill implements Surface. The value is assigned directly and the framework
// events are dispatched by hand, which survives inputs that reject synthetic
// keystrokes.
func (d *Driver) Fill(ctx context.Context, sel, value string) error {
	var filled bool
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			el.value = %s;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		})()`, jsStr(sel), jsStr(value))
	if err := d.Evaluate(ctx, script, &filled); err != nil {
		return err
	}
	if !filled {
		return fmt.Errorf("no element %q to fill", sel)
	}
	return nil
}

// InputValue implements Surface.
func (d *Driver) InputValue(ctx context.Context, sel string) (string, error) {
	var value string
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			return el ? String(el.value ?? "") : "";
		})()`, jsStr(sel))
	if err := d.Evaluate(ctx, script, &value); err != nil {
		return "", err
	}
	return value, nil
}

// SelectValue implements Surface.
func (d *Driver) SelectValue(ctx context.Context, sel, value string) (bool, error) {
	var selected bool
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			const want = %s;
			const opt = Array.from(el.options || []).find((o) => o.value === want);
			if (!opt) return false;
			el.value = want;
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		})()`, jsStr(sel), jsStr(value))
	if err := d.Evaluate(ctx, script, &selected); err != nil {
		return false, err
	}
	return selected, nil
}

// SelectLabel implements Surface.
func (d *Driver) SelectLabel(ctx context.Context, sel, label string) (bool, error) {
	var selected bool
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			const want = %s;
			const opt = Array.from(el.options || []).find((o) => o.label.trim() === want || o.text.trim() === want);
			if (!opt) return false;
			el.value = opt.value;
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		})()`, jsStr(sel), jsStr(label))
	if err := d.Evaluate(ctx, script, &selected); err != nil {
		return false, err
	}
	return selected, nil
}

// PressKey implements Surface using a trusted CDP key event.
func (d *Driver) PressKey(ctx context.Context, key string) error {
	if err := d.run(ctx, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("failed to press key: %w", err)
	}
	return nil
}

// Evaluate implements Surface.
func (d *Driver) Evaluate(ctx context.Context, script string, out any) error {
	var err error
	if out == nil {
		// chromedp.Evaluate requires a result target; discard into a RemoteObject.
		err = d.run(ctx, chromedp.Evaluate(script, nil, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(false)
		}))
	} else {
		err = d.run(ctx, chromedp.Evaluate(script, out))
	}
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// RemoveNodes implements Surface.
func (d *Driver) RemoveNodes(ctx context.Context, sel string) error {
	script := fmt.Sprintf(`
		(() => {
			document.querySelectorAll(%s).forEach((el) => el.remove());
			return true;
		})()`, jsStr(sel))
	var ok bool
	return d.Evaluate(ctx, script, &ok)
}

// ClearCookies implements Surface.
func (d *Driver) ClearCookies(ctx context.Context) error {
	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return network.ClearBrowserCookies().Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// activityBinding is the name of the JS->Go bridge used by the probe script.
const activityBinding = "__gcbotActivity"

// activityProbeScript runs in every new document and reports input on
// credential- or OTP-shaped fields, so a human typing a code keeps the idle
// watchdog fed.
const activityProbeScript = `
(() => {
  function isRelevantInput(target) {
    if (!target) return false;
    const id = (target.id || "").toLowerCase();
    const name = (target.name || "").toLowerCase();
    const autocomplete = (target.autocomplete || "").toLowerCase();
    if (id === "username" || id === "password") return true;
    if (name === "username" || name === "password") return true;
    if (autocomplete === "one-time-code") return true;
    const markers = ["otp", "verif", "kode", "mfa"];
    return markers.some((marker) => id.includes(marker) || name.includes(marker));
  }

  function report(event) {
    if (!isRelevantInput(event.target)) return;
    if (window.` + activityBinding + `) {
      window.` + activityBinding + `("input");
    }
  }
  document.addEventListener("input", report, true);
  document.addEventListener("change", report, true);
})();
`

// InstallActivityProbe implements ActivityProbe.
func (d *Driver) InstallActivityProbe(ctx context.Context, onActivity func()) error {
	if err := d.run(ctx, runtime.AddBinding(activityBinding)); err != nil {
		return fmt.Errorf("failed to add activity binding: %w", err)
	}

	chromedp.ListenTarget(d.ctx, func(ev interface{}) {
		if ev, ok := ev.(*runtime.EventBindingCalled); ok && ev.Name == activityBinding {
			onActivity()
		}
	})

	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(activityProbeScript).Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to inject activity probe script: %w", err)
	}
	return nil
}

// jsStr renders s as a JS string literal.
func jsStr(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// combineContext derives a context canceled when either parent is done. The
// returned context carries primary's values (the chromedp target), so actions
// still resolve the tab while honoring the caller's deadline.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
