// Package browser is a reference device adapter driving a real browser
// page through chromedp. It exists so the engine can be exercised end to
// end without mobile hardware: taps, swipes and text input map onto DOM
// interactions, and evidence is a page screenshot.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/arjun/sherpa/internal/device"
)

const (
	actionTimeout  = 60 * time.Second
	scrollDistance = 600
	pageTextLimit  = 4000
)

// collectJS gathers the interactive elements of the page and caches the
// node list for tap_by_index dispatch.
const collectJS = `(() => {
	const sel = 'a, button, input, select, textarea, [onclick], [role="button"]';
	const nodes = Array.from(document.querySelectorAll(sel)).filter(el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	});
	window.__sherpaNodes = nodes;
	return nodes.map((el, i) => {
		const r = el.getBoundingClientRect();
		return {
			index: i + 1,
			text: (el.innerText || el.value || el.placeholder || '').trim().slice(0, 80),
			class: el.tagName.toLowerCase(),
			clickable: true,
			bounds: {
				left: Math.round(r.left),
				top: Math.round(r.top),
				right: Math.round(r.right),
				bottom: Math.round(r.bottom)
			}
		};
	});
})()`

// Browser implements device.Actuator and device.SnapshotProvider against a
// chromedp-controlled page. The browser is started lazily on first use and
// stays open between actions.
type Browser struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	startURL string
	headless bool
	policy   *bluemonday.Policy
}

func New(startURL string, headless bool) *Browser {
	return &Browser{
		startURL: startURL,
		headless: headless,
		policy:   bluemonday.StrictPolicy(),
	}
}

func (b *Browser) init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	if err := chromedp.Run(b.browserCtx); err != nil {
		return err
	}
	if b.startURL != "" {
		return chromedp.Run(b.browserCtx, chromedp.Navigate(b.startURL))
	}
	return nil
}

func (b *Browser) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

// actionCtx initializes the browser if needed and returns a bounded context
// for one action.
func (b *Browser) actionCtx(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := b.init(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize browser: %w", err)
	}
	timeout := actionTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	actCtx, cancel := context.WithTimeout(b.browserCtx, timeout)
	return actCtx, cancel, nil
}

// --- device.Actuator ---

func (b *Browser) TapByIndex(ctx context.Context, index int) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	var ok bool
	js := fmt.Sprintf(`(() => {
		const nodes = window.__sherpaNodes || [];
		const el = nodes[%d - 1];
		if (!el) return false;
		el.click();
		return true;
	})()`, index)
	if err := chromedp.Run(actCtx, chromedp.Evaluate(js, &ok)); err != nil {
		return "", fmt.Errorf("tap element %d: %w", index, err)
	}
	if !ok {
		return "", fmt.Errorf("no element with index %d on screen", index)
	}
	return fmt.Sprintf("tapped element %d", index), nil
}

func (b *Browser) TapAtPoint(ctx context.Context, x, y int) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := chromedp.Run(actCtx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return "", fmt.Errorf("tap at (%d,%d): %w", x, y, err)
	}
	return fmt.Sprintf("tapped at (%d,%d)", x, y), nil
}

func (b *Browser) Swipe(ctx context.Context, startX, startY, endX, endY, durationMs int) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	// A swipe gesture on a page is a scroll by the gesture's delta.
	js := fmt.Sprintf("window.scrollBy(%d, %d)", startX-endX, startY-endY)
	if err := chromedp.Run(actCtx, chromedp.Evaluate(js, nil)); err != nil {
		return "", fmt.Errorf("swipe: %w", err)
	}
	return fmt.Sprintf("swiped from (%d,%d) to (%d,%d)", startX, startY, endX, endY), nil
}

func (b *Browser) ScrollUp(ctx context.Context) (string, error) {
	return b.scroll(ctx, -scrollDistance, "scrolled up")
}

func (b *Browser) ScrollDown(ctx context.Context) (string, error) {
	return b.scroll(ctx, scrollDistance, "scrolled down")
}

func (b *Browser) scroll(ctx context.Context, dy int, msg string) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	js := fmt.Sprintf("window.scrollBy(0, %d)", dy)
	if err := chromedp.Run(actCtx, chromedp.Evaluate(js, nil)); err != nil {
		return "", fmt.Errorf("scroll: %w", err)
	}
	return msg, nil
}

func (b *Browser) InputText(ctx context.Context, text string) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := chromedp.Run(actCtx, chromedp.SendKeys(":focus", text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("input text: %w", err)
	}
	return fmt.Sprintf("typed %d characters", len(text)), nil
}

// keyEvents maps the Android key codes the engine speaks to browser key
// events. Codes without a browser equivalent are rejected.
var keyEvents = map[int]string{
	61:  kb.Tab,
	62:  " ",
	66:  kb.Enter,
	67:  kb.Backspace,
	111: kb.Escape,
}

func (b *Browser) PressKey(ctx context.Context, code int) (string, error) {
	// Back and home have navigation semantics rather than key semantics.
	switch code {
	case 4:
		return b.Back(ctx)
	case 3:
		if b.startURL == "" {
			return "", fmt.Errorf("no home URL configured")
		}
		return b.StartApp(ctx, b.startURL)
	}

	key, ok := keyEvents[code]
	if !ok {
		return "", fmt.Errorf("key code %d has no browser equivalent", code)
	}

	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := chromedp.Run(actCtx, chromedp.KeyEvent(key)); err != nil {
		return "", fmt.Errorf("press key %d: %w", code, err)
	}
	return fmt.Sprintf("pressed key %d", code), nil
}

func (b *Browser) StartApp(ctx context.Context, pkg string) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	target := pkg
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	if err := chromedp.Run(actCtx, chromedp.Navigate(target)); err != nil {
		return "", fmt.Errorf("open %s: %w", target, err)
	}
	return fmt.Sprintf("opened %s", target), nil
}

func (b *Browser) Back(ctx context.Context) (string, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := chromedp.Run(actCtx, chromedp.NavigateBack()); err != nil {
		return "", fmt.Errorf("navigate back: %w", err)
	}
	return "navigated back", nil
}

// --- device.SnapshotProvider ---

func (b *Browser) Snapshot(ctx context.Context) (*device.Snapshot, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var elements []device.Node
	var title, location string
	var width, height int

	err = chromedp.Run(actCtx,
		chromedp.Title(&title),
		chromedp.Location(&location),
		chromedp.Evaluate("window.innerWidth", &width),
		chromedp.Evaluate("window.innerHeight", &height),
		chromedp.Evaluate(collectJS, &elements),
	)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	snap := &device.Snapshot{
		App:          title,
		Activity:     location,
		ScreenWidth:  width,
		ScreenHeight: height,
		Elements:     elements,
	}
	snap.PageText = b.pageText(actCtx, location)
	return snap, nil
}

// pageText extracts the readable main content of the page; failures leave
// the snapshot without a text section.
func (b *Browser) pageText(ctx context.Context, location string) string {
	var html string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return ""
	}

	pageURL, err := url.Parse(location)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return ""
	}

	text := b.policy.Sanitize(article.TextContent)
	text = strings.TrimSpace(text)
	if len(text) > pageTextLimit {
		cut := pageTextLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n... (truncated)"
	}
	return text
}

func (b *Browser) CaptureEvidence(ctx context.Context) ([]byte, error) {
	actCtx, cancel, err := b.actionCtx(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var buf []byte
	if err := chromedp.Run(actCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}
