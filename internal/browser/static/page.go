package static

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

// Page is a parsed HTML document.
type Page struct {
	fetch func(ctx context.Context, rawURL string, timeout time.Duration) (fetchResult, error)
	url   string
	root  *html.Node
	doc   *goquery.Document
}

// NewPage parses markup into a page located at rawURL. Navigate on such a
// page fails unless it was created by a Browser.
func NewPage(rawURL, markup string) (*Page, error) {
	p := &Page{}
	if err := p.load(rawURL, []byte(markup)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) load(rawURL string, body []byte) error {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	p.url = rawURL
	p.root = root
	p.doc = goquery.NewDocumentFromNode(root)
	return nil
}

// Navigate fetches rawURL and replaces the document.
func (p *Page) Navigate(ctx context.Context, rawURL string, opts browser.NavigateOptions) error {
	if p.fetch == nil {
		return fmt.Errorf("navigate %s: %w", rawURL, browser.ErrUnsupported)
	}
	res, err := p.fetch(ctx, rawURL, opts.Timeout)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	finalURL := res.finalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	return p.load(finalURL, res.body)
}

// URL returns the document location.
func (p *Page) URL() string {
	return p.url
}

// Query returns the first match. Static documents never change, so the timeout is unused.
func (p *Page) Query(_ context.Context, q browser.Query, mode browser.Readiness, _ time.Duration) (browser.Element, error) {
	nodes, err := p.match(q)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if mode == browser.Visible && hidden(n) {
			continue
		}
		return &Element{node: n}, nil
	}
	return nil, browser.ErrNotFound
}

// QueryAll returns every match of q.
func (p *Page) QueryAll(_ context.Context, q browser.Query) ([]browser.Element, error) {
	nodes, err := p.match(q)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{node: n})
	}
	return out, nil
}

func (p *Page) match(q browser.Query) ([]*html.Node, error) {
	if p.root == nil {
		return nil, browser.ErrNotFound
	}
	if q.Kind == browser.KindCSS {
		return p.doc.Find(q.Expr).Nodes, nil
	}
	expr, err := q.XPathExpr()
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(p.root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %s: %w", expr, err)
	}
	return nodes, nil
}

// Text renders the body text with block-level line breaks.
func (p *Page) Text(_ context.Context) (string, error) {
	if p.root == nil {
		return "", nil
	}
	body := htmlquery.FindOne(p.root, "//body")
	if body == nil {
		body = p.root
	}
	return renderText(body), nil
}

// WaitNetworkIdle returns immediately; a fetched document has no pending requests.
func (p *Page) WaitNetworkIdle(_ context.Context, _, _ time.Duration) error {
	return nil
}

// Scroll reports a single-screen document that is always at its bottom.
func (p *Page) Scroll(_ context.Context, _ int) (browser.ScrollState, error) {
	return browser.ScrollState{Offset: 0, Viewport: 1, Height: 1}, nil
}

// Close is a no-op.
func (p *Page) Close() error {
	return nil
}

var displayNone = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)

func hidden(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, a := range cur.Attr {
			switch {
			case a.Key == "hidden":
				return true
			case a.Key == "type" && strings.EqualFold(a.Val, "hidden"):
				return true
			case a.Key == "style" && displayNone.MatchString(a.Val):
				return true
			}
		}
	}
	return false
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true,
	"div": true, "dl": true, "dt": true, "footer": true, "form": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true, "section": true,
	"table": true, "tr": true, "ul": true,
}

// renderText approximates innerText: <br> and block elements become line breaks,
// script and style content is skipped.
func renderText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		switch cur.Type {
		case html.TextNode:
			sb.WriteString(cur.Data)
			return
		case html.ElementNode:
			switch cur.Data {
			case "script", "style", "noscript", "template":
				return
			case "br":
				sb.WriteByte('\n')
				return
			}
		}
		block := cur.Type == html.ElementNode && blockElements[cur.Data]
		if block {
			sb.WriteByte('\n')
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return tidyLines(sb.String())
}

func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Element is a node of a static document.
type Element struct {
	node *html.Node
}

// Fill sets the value attribute, mirroring what typing would leave in the DOM.
func (e *Element) Fill(_ context.Context, value string) error {
	setAttr(e.node, "value", value)
	return nil
}

// Click is not possible without a script engine.
func (e *Element) Click(_ context.Context) error {
	return fmt.Errorf("click: %w", browser.ErrUnsupported)
}

// Submit is not possible without a script engine.
func (e *Element) Submit(_ context.Context) error {
	return fmt.Errorf("submit: %w", browser.ErrUnsupported)
}

// SelectLabel marks the first <option> whose label matches pattern as selected.
func (e *Element) SelectLabel(_ context.Context, pattern string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("select label pattern: %w", err)
	}
	options := htmlquery.Find(e.node, ".//option")
	for _, opt := range options {
		label := htmlquery.SelectAttr(opt, "label")
		if label == "" {
			label = renderText(opt)
		}
		if !re.MatchString(strings.TrimSpace(label)) {
			continue
		}
		for _, other := range options {
			removeAttr(other, "selected")
		}
		setAttr(opt, "selected", "selected")
		return nil
	}
	return fmt.Errorf("select label %q: %w", pattern, browser.ErrNotFound)
}

// Attribute returns the named attribute.
func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// Text renders the element text with line breaks.
func (e *Element) Text(_ context.Context) (string, error) {
	return renderText(e.node), nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
