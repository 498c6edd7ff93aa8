// Package extract reads one shop's detail page into raw record fields. Each
// field runs an ordered fallback chain from structured markup to page-text
// patterns; a field that no step resolves stays absent.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/address"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// ErrDetailPage reports that a detail page could not be loaded.
var ErrDetailPage = errors.New("detail page failed")

// maxCategoryLen drops category containers that hold more than a label.
const maxCategoryLen = 60

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d ()/\-]{5,}\d`)
	labelledPhone = regexp.MustCompile(`(?i)\b(?:tel(?:efon)?|fon|phone)\.?\s*:?\s*(\+?\d[\d ()/\-]{5,}\d)`)
)

// Config controls detail extraction.
type Config struct {
	// SiteDomain is the listing's own domain; its links are never a website.
	SiteDomain      string
	Denylist        []string
	Categories      []CategoryRule
	DefaultCategory string

	NavigationTimeout time.Duration
	QuietWindow       time.Duration
	QuiescenceTimeout time.Duration
}

// Extractor runs the per-field chains.
type Extractor struct {
	cfg     Config
	loc     *locator.Locator
	website WebsitePolicy
	vocab   vocabulary
	logger  *zap.Logger
}

// New creates an Extractor.
func New(cfg Config, loc *locator.Locator, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Denylist == nil {
		cfg.Denylist = DefaultDenylist
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategoryRules
	}
	vocab, err := newVocabulary(cfg.Categories, cfg.DefaultCategory)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:     cfg,
		loc:     loc,
		website: NewWebsitePolicy(cfg.SiteDomain, cfg.Denylist),
		vocab:   vocab,
		logger:  logger,
	}, nil
}

// Extract navigates page to detailURL and reads the raw fields. Only a
// failed navigation is an error; it wraps ErrDetailPage.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, detailURL string) (record.Raw, error) {
	if err := page.Navigate(ctx, detailURL, browser.NavigateOptions{Timeout: e.cfg.NavigationTimeout}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetailPage, err)
	}
	if e.cfg.QuiescenceTimeout > 0 {
		if err := page.WaitNetworkIdle(ctx, e.cfg.QuietWindow, e.cfg.QuiescenceTimeout); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrDetailPage, ctx.Err())
			}
			e.logger.Debug("detail page did not settle", zap.String("url", detailURL), zap.Error(err))
		}
	}

	d := &detail{e: e, page: page, log: e.logger.With(zap.String("url", detailURL))}
	raw := record.Raw{}
	raw.Set(record.FieldName, d.name(ctx))

	hrefs := d.hrefs(ctx)
	raw.Set(record.FieldPhone, d.phone(ctx, hrefs))
	raw.Set(record.FieldEmail, d.email(ctx, hrefs))
	if site, ok := e.website.First(hrefs); ok {
		raw.Set(record.FieldWebsite, site)
	}

	addr := d.address(ctx)
	raw.Set(record.FieldStreet, addr.Street)
	raw.Set(record.FieldPostalCode, addr.PostalCode)
	raw.Set(record.FieldCity, addr.City)

	raw.Set(record.FieldCategory, d.category(ctx))
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetailPage, err)
	}
	return raw, nil
}

// detail holds the per-page state of one extraction.
type detail struct {
	e        *Extractor
	page     browser.Page
	log      *zap.Logger
	text     string
	textRead bool
}

// pageText returns the rendered page text, read at most once.
func (d *detail) pageText(ctx context.Context) string {
	if d.textRead {
		return d.text
	}
	d.textRead = true
	text, err := d.page.Text(ctx)
	if err != nil {
		d.log.Debug("page text unavailable", zap.Error(err))
		return ""
	}
	d.text = text
	return text
}

// fieldText resolves field and returns its text, or "" when it does not resolve.
func (d *detail) fieldText(ctx context.Context, field locator.Field) string {
	res, err := d.e.loc.Resolve(ctx, d.page, field, locator.Options{Mode: browser.Attached})
	if err != nil || !res.Found {
		return ""
	}
	text, err := res.Element.Text(ctx)
	if err != nil {
		d.log.Debug("field text unreadable", zap.String("field", string(field)), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (d *detail) name(ctx context.Context) string {
	return firstLine(d.fieldText(ctx, locator.DetailName))
}

func (d *detail) hrefs(ctx context.Context) []string {
	links, err := d.e.loc.All(ctx, d.page, locator.DetailLinks)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		href, ok, err := l.Attribute(ctx, "href")
		if err != nil || !ok {
			continue
		}
		if href = strings.TrimSpace(href); href != "" {
			out = append(out, href)
		}
	}
	return out
}

// phone: tel: link, then the phone container, then a labelled number in the page text.
func (d *detail) phone(ctx context.Context, hrefs []string) string {
	if v, ok := schemeValue(hrefs, "tel:"); ok {
		return v
	}
	if m := phonePattern.FindString(d.fieldText(ctx, locator.DetailPhone)); m != "" {
		return m
	}
	if m := labelledPhone.FindStringSubmatch(d.pageText(ctx)); m != nil {
		return m[1]
	}
	return ""
}

// email: mailto: link, then the email container, then any address in the page text.
func (d *detail) email(ctx context.Context, hrefs []string) string {
	if v, ok := schemeValue(hrefs, "mailto:"); ok {
		return v
	}
	if m := emailPattern.FindString(d.fieldText(ctx, locator.DetailEmail)); m != "" {
		return m
	}
	return emailPattern.FindString(d.pageText(ctx))
}

// address: the address container, then the page-text postal line with the line above it.
func (d *detail) address(ctx context.Context) address.Address {
	block := address.Parse(d.fieldText(ctx, locator.DetailAddress))
	if block.PostalCode != "" {
		return block
	}
	lines := strings.Split(d.pageText(ctx), "\n")
	for i, line := range lines {
		if !address.HasPostalLine(line) {
			continue
		}
		start := i
		if i > 0 {
			start = i - 1
		}
		return address.Parse(strings.Join(lines[start:i+1], "\n"))
	}
	return block
}

// category: the category container, then the vocabulary over the page text.
func (d *detail) category(ctx context.Context) string {
	if c := firstLine(d.fieldText(ctx, locator.DetailCategory)); c != "" && len([]rune(c)) <= maxCategoryLen {
		return c
	}
	return d.e.vocab.classify(d.pageText(ctx))
}

// schemeValue returns the first href with the given scheme, stripped of the
// scheme, any query, and percent-encoding.
func schemeValue(hrefs []string, scheme string) (string, bool) {
	for _, h := range hrefs {
		if len(h) < len(scheme) || !strings.EqualFold(h[:len(scheme)], scheme) {
			continue
		}
		v := h[len(scheme):]
		if i := strings.IndexByte(v, '?'); i >= 0 {
			v = v[:i]
		}
		if unescaped, err := url.PathUnescape(v); err == nil {
			v = unescaped
		}
		if v = strings.TrimSpace(strings.TrimPrefix(v, "//")); v != "" {
			return v, true
		}
	}
	return "", false
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
