package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

const (
	queryAllTimeout = 5 * time.Second
	idlePollEvery   = 100 * time.Millisecond
)

const scrollJS = `(function(dy) {
	window.scrollBy(0, dy);
	var doc = document.scrollingElement || document.documentElement;
	return {
		offset: Math.round(window.scrollY || doc.scrollTop || 0),
		viewport: Math.round(window.innerHeight || doc.clientHeight || 0),
		height: Math.round(Math.max(doc.scrollHeight, document.body ? document.body.scrollHeight : 0))
	};
})(%d)`

// selectLabelJS is called on a <select> node; %s is the JSON-quoted pattern.
const selectLabelJS = `function() {
	var re = new RegExp(%s, "i");
	for (var i = 0; i < this.options.length; i++) {
		var opt = this.options[i];
		if (re.test((opt.label || opt.text || "").trim())) {
			this.selectedIndex = i;
			this.dispatchEvent(new Event("input", {bubbles: true}));
			this.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		}
	}
	return false;
}`

// Page is a chromedp tab.
type Page struct {
	ctx           context.Context
	cancel        context.CancelFunc
	tracker       *networkTracker
	navTimeout    time.Duration
	actionTimeout time.Duration
	release       func()

	mu        sync.RWMutex
	location  string
	closeOnce sync.Once
}

// Navigate loads rawURL and waits for the document body.
func (p *Page) Navigate(ctx context.Context, rawURL string, opts browser.NavigateOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.navTimeout
	}
	var finalURL string
	err := p.run(ctx, timeout,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	p.mu.Lock()
	p.location = finalURL
	p.mu.Unlock()
	return nil
}

// URL returns the tab's current location. Clicks and form submits can
// navigate, so it is read live; the last known location is returned if the
// tab does not answer.
func (p *Page) URL() string {
	var loc string
	if err := p.run(context.Background(), p.actionTimeout, chromedp.Location(&loc)); err == nil && loc != "" {
		p.mu.Lock()
		p.location = loc
		p.mu.Unlock()
		return loc
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.location
}

// Query waits up to timeout for the first match of q in the requested readiness.
func (p *Page) Query(ctx context.Context, q browser.Query, mode browser.Readiness, timeout time.Duration) (browser.Element, error) {
	sel, by, err := selectorFor(q)
	if err != nil {
		return nil, err
	}
	opts := []chromedp.QueryOption{by}
	if mode == browser.Visible {
		opts = append(opts, chromedp.NodeVisible)
	} else {
		opts = append(opts, chromedp.NodeReady)
	}
	var nodes []*cdp.Node
	if err := p.run(ctx, timeout, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, notFoundOr(ctx, err)
	}
	if len(nodes) == 0 {
		return nil, browser.ErrNotFound
	}
	return &Element{page: p, node: nodes[0]}, nil
}

// QueryAll returns the current matches of q without waiting for them to appear.
func (p *Page) QueryAll(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	sel, by, err := selectorFor(q)
	if err != nil {
		return nil, err
	}
	if q.Kind == browser.KindCSS {
		by = chromedp.ByQueryAll
	}
	var nodes []*cdp.Node
	if err := p.run(ctx, queryAllTimeout, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query all %s: %w", q, err)
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{page: p, node: n})
	}
	return out, nil
}

// Text returns document.body.innerText.
func (p *Page) Text(ctx context.Context) (string, error) {
	var text string
	if err := p.run(ctx, p.actionTimeout,
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	); err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	return text, nil
}

// WaitNetworkIdle blocks until no request has been in flight for idle, or timeout elapses.
func (p *Page) WaitNetworkIdle(ctx context.Context, idle, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(idlePollEvery)
	defer ticker.Stop()
	for {
		if p.tracker.idleFor(time.Now()) >= idle {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("network idle: %d requests in flight after %s: %w",
				p.tracker.inFlight(), timeout, context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return fmt.Errorf("tab closed: %w", p.ctx.Err())
		case <-ticker.C:
		}
	}
}

// Scroll advances the viewport by dy pixels.
func (p *Page) Scroll(ctx context.Context, dy int) (browser.ScrollState, error) {
	var res struct {
		Offset   int `json:"offset"`
		Viewport int `json:"viewport"`
		Height   int `json:"height"`
	}
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(fmt.Sprintf(scrollJS, dy), &res)); err != nil {
		return browser.ScrollState{}, fmt.Errorf("scroll: %w", err)
	}
	return browser.ScrollState{Offset: res.Offset, Viewport: res.Viewport, Height: res.Height}, nil
}

// Close closes the tab and releases its slot. Safe to call more than once.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.release != nil {
			p.release()
		}
	})
	return nil
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.actionTimeout
	}
	taskCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func selectorFor(q browser.Query) (string, chromedp.QueryOption, error) {
	if q.Kind == browser.KindCSS {
		return q.Expr, chromedp.ByQuery, nil
	}
	expr, err := q.XPathExpr()
	if err != nil {
		return "", nil, err
	}
	return expr, chromedp.BySearch, nil
}

// Element is a DOM node inside a chromedp tab.
type Element struct {
	page *Page
	node *cdp.Node
}

func (e *Element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

// Fill clears the element and types value into it.
func (e *Element) Fill(ctx context.Context, value string) error {
	err := e.page.run(ctx, e.page.actionTimeout,
		chromedp.Focus(e.ids(), chromedp.ByNodeID),
		chromedp.Clear(e.ids(), chromedp.ByNodeID),
		chromedp.SendKeys(e.ids(), value, chromedp.ByNodeID),
	)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

// Click scrolls the element into view and clicks it.
func (e *Element) Click(ctx context.Context) error {
	if err := e.page.run(ctx, e.page.actionTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Submit presses Enter inside the element.
func (e *Element) Submit(ctx context.Context) error {
	if err := e.page.run(ctx, e.page.actionTimeout, chromedp.SendKeys(e.ids(), kb.Enter, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// SelectLabel selects the first option of a <select> whose label matches pattern.
func (e *Element) SelectLabel(ctx context.Context, pattern string) error {
	quoted, err := json.Marshal(pattern)
	if err != nil {
		return fmt.Errorf("select label: %w", err)
	}
	var ok bool
	err = e.page.run(ctx, e.page.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		res, exc, err := runtime.CallFunctionOn(fmt.Sprintf(selectLabelJS, quoted)).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		ok = res != nil && string(res.Value) == "true"
		return nil
	}))
	if err != nil {
		return fmt.Errorf("select label: %w", err)
	}
	if !ok {
		return fmt.Errorf("select label %q: %w", pattern, browser.ErrNotFound)
	}
	return nil
}

// Attribute reads an attribute from the node snapshot.
func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.node.Attribute(name)
	return v, ok, nil
}

// Text returns the rendered text of the element.
func (e *Element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.page.run(ctx, e.page.actionTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("element text: %w", err)
	}
	return text, nil
}
