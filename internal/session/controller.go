// Package session drives a store-locator listing from a fresh page load to a
// rendered result list for one postal code.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
)

// ErrSessionFailed reports that neither the form nor the URL fallback produced a result page.
var ErrSessionFailed = errors.New("search session failed")

// Config holds the listing location and the waits of one session.
type Config struct {
	ListingURL  string
	ZipParam    string
	RadiusParam string
	RadiusKm    int

	NavigationTimeout time.Duration
	// QuietWindow is how long the network must stay idle to count as quiescent.
	QuietWindow       time.Duration
	QuiescenceTimeout time.Duration
	SettleDelay       time.Duration
}

// Outcome describes how a session reached the result list.
type Outcome struct {
	PostalCode   string
	States       []State
	UsedFallback bool
	FallbackURL  string
}

// Final returns the last state reached.
func (o Outcome) Final() State {
	if len(o.States) == 0 {
		return Init
	}
	return o.States[len(o.States)-1]
}

// Controller runs search sessions. It holds no per-session state and may be
// shared by goroutines that each own their page.
type Controller struct {
	cfg    Config
	loc    *locator.Locator
	logger *zap.Logger
}

// New creates a Controller.
func New(cfg Config, loc *locator.Locator, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, loc: loc, logger: logger}
}

// Run searches postalCode on page. UI failures fall back to the URL form of
// the query; the returned error is non-nil only when that fallback fails too
// or ctx is done.
func (c *Controller) Run(ctx context.Context, page browser.Page, postalCode string) (Outcome, error) {
	log := c.logger.With(zap.String("postal_code", postalCode))
	m := newMachine()
	out := Outcome{PostalCode: postalCode}
	finish := func(err error) (Outcome, error) {
		out.States = m.path()
		return out, err
	}

	submitted, err := c.interact(ctx, page, postalCode, m, log)
	if err != nil {
		return finish(err)
	}
	if !submitted {
		if err := m.to(Failed); err != nil {
			return finish(err)
		}
		fallback, err := BuildFallbackURL(c.cfg.ListingURL, c.cfg.ZipParam, c.cfg.RadiusParam, postalCode, c.cfg.RadiusKm)
		if err != nil {
			return finish(fmt.Errorf("%w: %w", ErrSessionFailed, err))
		}
		out.UsedFallback = true
		out.FallbackURL = fallback
		log.Info("form interaction failed, using url fallback", zap.String("url", fallback))
		if err := page.Navigate(ctx, fallback, browser.NavigateOptions{Timeout: c.cfg.NavigationTimeout}); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(ctxErr)
			}
			return finish(fmt.Errorf("%w: fallback navigation: %w", ErrSessionFailed, err))
		}
	}

	if err := m.to(ResultsRendered); err != nil {
		return finish(err)
	}
	if err := c.settle(ctx, page, log); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// interact walks Init → Submitted through the page UI. It reports false when
// the session must fall back; the error is reserved for ctx cancellation.
func (c *Controller) interact(ctx context.Context, page browser.Page, postalCode string, m *machine, log *zap.Logger) (bool, error) {
	if err := page.Navigate(ctx, c.cfg.ListingURL, browser.NavigateOptions{Timeout: c.cfg.NavigationTimeout}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Warn("listing navigation failed", zap.Error(err))
		return false, nil
	}

	if err := m.to(ConsentPending); err != nil {
		return false, err
	}
	consent, err := c.loc.Act(ctx, page, locator.ConsentAccept, locator.Click, locator.Options{Mode: browser.Visible})
	if err != nil {
		return false, err
	}
	switch {
	case consent.Done:
		log.Debug("consent accepted")
	case consent.Found:
		log.Debug("consent button did not respond", zap.Error(consent.Err))
	}

	if err := m.to(FormReady); err != nil {
		return false, err
	}
	fill, err := c.loc.Act(ctx, page, locator.ZipInput, locator.Fill, locator.Options{Mode: browser.Visible}, postalCode)
	if err != nil {
		return false, err
	}
	if !fill.Done {
		log.Warn("postal code input not usable", zap.Bool("found", fill.Found), zap.Error(fill.Err))
		return false, nil
	}
	if c.cfg.RadiusKm > 0 {
		pattern := fmt.Sprintf(`^\s*%d\s*km`, c.cfg.RadiusKm)
		radius, err := c.loc.Act(ctx, page, locator.RadiusSelect, locator.SelectLabel, locator.Options{Mode: browser.Attached}, pattern)
		if err != nil {
			return false, err
		}
		if !radius.Done {
			log.Debug("radius not selected", zap.Int("radius_km", c.cfg.RadiusKm), zap.Bool("found", radius.Found))
		}
	}

	submit, err := c.loc.Act(ctx, page, locator.SearchSubmit, locator.Click, locator.Options{Mode: browser.Visible})
	if err != nil {
		return false, err
	}
	if !submit.Done {
		if err := fill.Element.Submit(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			log.Warn("search could not be submitted", zap.NamedError("button_error", submit.Err), zap.Error(err))
			return false, nil
		}
		log.Debug("search submitted from postal code input")
	}
	if err := m.to(Submitted); err != nil {
		return false, err
	}
	return true, nil
}

// settle waits for network quiescence and the settle delay. A quiescence
// timeout is logged, not returned.
func (c *Controller) settle(ctx context.Context, page browser.Page, log *zap.Logger) error {
	if c.cfg.QuiescenceTimeout > 0 {
		if err := page.WaitNetworkIdle(ctx, c.cfg.QuietWindow, c.cfg.QuiescenceTimeout); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Debug("network did not settle", zap.Error(err))
		}
	}
	return browser.Sleep(ctx, c.cfg.SettleDelay)
}

// BuildFallbackURL returns listingURL with the postal code and radius set
// under the given query parameter names.
func BuildFallbackURL(listingURL, zipParam, radiusParam, postalCode string, radiusKm int) (string, error) {
	if zipParam == "" || radiusParam == "" {
		return "", errors.New("fallback parameter names must be set")
	}
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("listing url %q is not absolute", listingURL)
	}
	q := u.Query()
	q.Set(zipParam, postalCode)
	q.Set(radiusParam, strconv.Itoa(radiusKm))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
