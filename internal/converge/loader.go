// Package converge expands a lazily loaded result list until the number of
// detail links stops growing, then collects the detail URLs.
package converge

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
)

// Loop limits.
const (
	DefaultStableRounds = 3
	MaxRounds           = 25
	DefaultScrollStep   = 1200
	// maxScrollSteps bounds one synthetic scroll when the page keeps growing.
	maxScrollSteps = 60
)

// StopReason says why the loop ended.
type StopReason string

// Stop reasons.
const (
	StopStable    StopReason = "stable"
	StopMaxRounds StopReason = "max-rounds"
	StopBudget    StopReason = "budget"
)

// Config tunes the loop.
type Config struct {
	StableRounds int
	MaxRounds    int
	// Budget caps the wall-clock time of the whole loop. Zero means no budget.
	Budget time.Duration

	// RoundDelay is waited after each expansion so new entries can render.
	RoundDelay        time.Duration
	QuietWindow       time.Duration
	QuiescenceTimeout time.Duration
	LoadMoreTimeout   time.Duration

	ScrollStep  int
	ScrollPause time.Duration
	// ScrollFactor caps the distance of one scroll at ScrollFactor × page height.
	ScrollFactor float64
}

// State is the convergence bookkeeping.
type State struct {
	LastCount    int
	StableRounds int
	TotalRounds  int
}

// observe folds one round's count into the state. Any change resets the
// stable counter.
func (s *State) observe(count int) {
	s.TotalRounds++
	if count == s.LastCount {
		s.StableRounds++
	} else {
		s.StableRounds = 0
	}
	s.LastCount = count
}

// Entry is one result of the listing.
type Entry struct {
	URL string
	// Snapshot is the listing-level text of the entry, when it could be paired.
	Snapshot string
}

// Result is the outcome of a loader run.
type Result struct {
	State
	Count      int
	Stop       StopReason
	Expansions int
	Entries    []Entry
}

// URLs returns the entry URLs in order.
func (r Result) URLs() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.URL
	}
	return out
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Loader runs the convergence loop.
type Loader struct {
	cfg    Config
	loc    *locator.Locator
	clock  Clock
	logger *zap.Logger
}

// New creates a Loader, filling unset limits with defaults. MaxRounds never exceeds 25.
func New(cfg Config, loc *locator.Locator, clock Clock, logger *zap.Logger) *Loader {
	if cfg.StableRounds <= 0 {
		cfg.StableRounds = DefaultStableRounds
	}
	if cfg.MaxRounds <= 0 || cfg.MaxRounds > MaxRounds {
		cfg.MaxRounds = MaxRounds
	}
	if cfg.ScrollStep <= 0 {
		cfg.ScrollStep = DefaultScrollStep
	}
	if cfg.ScrollFactor <= 0 {
		cfg.ScrollFactor = 1.2
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cfg: cfg, loc: loc, clock: clock, logger: logger}
}

// Run expands page until the detail-link count is stable for the configured
// number of rounds, the round cap is hit or the budget runs out.
func (l *Loader) Run(ctx context.Context, page browser.Page) (Result, error) {
	var (
		st    State
		res   Result
		start = l.clock.Now()
	)
	for {
		if st.TotalRounds >= l.cfg.MaxRounds {
			res.Stop = StopMaxRounds
			break
		}
		if l.cfg.Budget > 0 && l.clock.Now().Sub(start) >= l.cfg.Budget {
			res.Stop = StopBudget
			break
		}
		count, err := l.loc.Count(ctx, page, locator.DetailLink)
		if err != nil {
			return res, err
		}
		st.observe(count)
		l.logger.Debug("convergence round",
			zap.Int("round", st.TotalRounds),
			zap.Int("count", count),
			zap.Int("stable_rounds", st.StableRounds),
		)
		if st.StableRounds >= l.cfg.StableRounds {
			res.Stop = StopStable
			break
		}
		if st.TotalRounds >= l.cfg.MaxRounds {
			res.Stop = StopMaxRounds
			break
		}
		if err := l.expand(ctx, page); err != nil {
			return res, err
		}
		res.Expansions++
	}
	res.State = st

	entries, err := l.collect(ctx, page)
	if err != nil {
		return res, err
	}
	res.Entries = entries
	res.Count = len(entries)
	return res, nil
}

// expand clicks a load-more control when one resolves, otherwise scrolls.
// Only ctx errors are returned.
func (l *Loader) expand(ctx context.Context, page browser.Page) error {
	more, err := l.loc.Act(ctx, page, locator.LoadMore, locator.Click,
		locator.Options{Mode: browser.Visible, Timeout: l.cfg.LoadMoreTimeout})
	if err != nil {
		return err
	}
	if more.Done {
		if l.cfg.QuiescenceTimeout > 0 {
			if err := page.WaitNetworkIdle(ctx, l.cfg.QuietWindow, l.cfg.QuiescenceTimeout); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	} else if err := l.scroll(ctx, page); err != nil {
		return err
	}
	return browser.Sleep(ctx, l.cfg.RoundDelay)
}

// scroll advances the viewport in fixed steps until the bottom stops moving
// or the distance cap is reached.
func (l *Loader) scroll(ctx context.Context, page browser.Page) error {
	traveled, lastHeight := 0, -1
	for step := 0; step < maxScrollSteps; step++ {
		state, err := page.Scroll(ctx, l.cfg.ScrollStep)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Debug("scroll failed", zap.Error(err))
			return nil
		}
		traveled += l.cfg.ScrollStep
		if state.AtBottom() && state.Height <= lastHeight {
			return nil
		}
		if float64(traveled) > l.cfg.ScrollFactor*float64(state.Height) {
			return nil
		}
		lastHeight = state.Height
		if err := browser.Sleep(ctx, l.cfg.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

// collect reads every detail link, resolves it against the page URL and
// drops fragments and duplicates.
func (l *Loader) collect(ctx context.Context, page browser.Page) ([]Entry, error) {
	links, err := l.loc.All(ctx, page, locator.DetailLink)
	if err != nil {
		return nil, err
	}
	cards, err := l.loc.All(ctx, page, locator.ResultCard)
	if err != nil {
		return nil, err
	}
	paired := len(cards) == len(links)

	base, _ := url.Parse(page.URL())
	seen := make(map[string]struct{}, len(links))
	entries := make([]Entry, 0, len(links))
	for i, link := range links {
		href, ok, err := link.Attribute(ctx, "href")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Debug("detail link unreadable", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		abs, err := Resolve(base, href)
		if err != nil {
			l.logger.Debug("detail link skipped", zap.String("href", href), zap.Error(err))
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		entry := Entry{URL: abs}
		if paired {
			if text, err := cards[i].Text(ctx); err == nil {
				entry.Snapshot = text
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var errNotHTTP = errors.New("not an http(s) link")

// Resolve makes href absolute against base and strips the fragment.
func Resolve(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", errNotHTTP
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", errNotHTTP
	}
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String(), nil
}
