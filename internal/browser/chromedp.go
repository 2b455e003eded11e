package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// defaultUserAgent pins a stable desktop UA so the dashboard serves the
// same markup headless as it does interactively.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Chrome/124 Safari/537.36"

// bodyTextJS collects the rendered text of the page and of every
// same-origin iframe. The dashboard embeds its live widget in an iframe,
// so the top document alone is often not enough.
const bodyTextJS = `(() => {
	let t = document.body ? document.body.innerText : '';
	for (const f of document.querySelectorAll('iframe')) {
		try {
			if (f.contentDocument && f.contentDocument.body) {
				t += '\n' + f.contentDocument.body.innerText;
			}
		} catch (e) { /* cross-origin frame */ }
	}
	return t.normalize('NFKD');
})()`

// Options configures a launched browser page.
type Options struct {
	// Headless runs the browser without a display.
	Headless bool

	// ProxyURL, when non-empty, routes the browser's traffic through an
	// HTTP proxy.
	ProxyURL string
}

// chromePage drives a single Chrome tab over the DevTools protocol.
type chromePage struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChromePage launches a Chrome instance and returns a Page bound to a
// fresh tab. The browser lives until Close is called; ctx only scopes the
// launch itself.
func NewChromePage(ctx context.Context, opts Options) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		// EN locale stabilizes the dashboard's text labels.
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(1366, 960),
		chromedp.UserAgent(defaultUserAgent),
	)
	if opts.ProxyURL != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so launch failures surface
	// here rather than on the first navigation.
	launch, cancel := mergeCtx(tab, ctx)
	defer cancel()
	if err := chromedp.Run(launch); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}

	return &chromePage{tab: tab, tabCancel: tabCancel, allocCancel: allocCancel}, nil
}

// mergeCtx derives a context from the tab that is additionally cancelled
// when caller is done and bounded by caller's deadline. chromedp actions
// must run on the tab's context chain, so the caller's context cannot be
// used directly.
func mergeCtx(tab, caller context.Context) (context.Context, context.CancelFunc) {
	var (
		merged context.Context
		cancel context.CancelFunc
	)
	if dl, ok := caller.Deadline(); ok {
		merged, cancel = context.WithDeadline(tab, dl)
	} else {
		merged, cancel = context.WithCancel(tab)
	}
	stop := context.AfterFunc(caller, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeCtx(p.tab, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the caller's cancellation rather than the derived one.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// selOpt picks the chromedp query option for the selector convention.
func selOpt(selector string) chromedp.QueryOption {
	if IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, selOpt(selector)))
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`!!document.querySelector(%q)`, selector)
	if IsXPath(selector) {
		js = fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength > 0`,
			selector)
	}
	if err := p.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var s string
	if err := p.run(ctx, chromedp.Text(selector, &s, selOpt(selector))); err != nil {
		return "", err
	}
	return s, nil
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	var s string
	if err := p.run(ctx, chromedp.Evaluate(bodyTextJS, &s)); err != nil {
		return "", err
	}
	return s, nil
}

func (p *chromePage) SendKeys(ctx context.Context, selector, value string) error {
	opt := selOpt(selector)
	return p.run(ctx,
		chromedp.SetValue(selector, "", opt),
		chromedp.SendKeys(selector, value, opt),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, selOpt(selector)))
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.tab)
	p.tabCancel()
	p.allocCancel()
	return err
}
