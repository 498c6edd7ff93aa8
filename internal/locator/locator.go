// Package locator resolves semantic page fields to concrete elements by trying
// each field's candidate queries in order. Not finding a field is an ordinary
// outcome reported through Resolution.Found, never an error.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

// Per-candidate timeout bounds.
const (
	MinCandidateTimeout     = 500 * time.Millisecond
	MaxCandidateTimeout     = 2 * time.Second
	DefaultCandidateTimeout = 1500 * time.Millisecond
)

// Options control one resolution.
type Options struct {
	Mode browser.Readiness
	// Timeout caps each candidate's wait. Zero uses the locator default.
	Timeout time.Duration
}

// Resolution is the outcome of resolving a field.
type Resolution struct {
	Field     Field
	Element   browser.Element
	Candidate int
	Query     browser.Query
	Found     bool
}

// Action is an element interaction performed by Act.
type Action string

// Supported actions.
const (
	Fill        Action = "fill"
	Click       Action = "click"
	Submit      Action = "submit"
	SelectLabel Action = "select-label"
)

// ActResult reports whether an action ran. Err carries the element-level
// failure when the field resolved but the action did not succeed.
type ActResult struct {
	Resolution
	Done bool
	Err  error
}

// Observer is notified of every resolution outcome, e.g. for metrics.
type Observer func(field Field, found bool, candidate int)

// Locator resolves fields from a Table.
type Locator struct {
	table     Table
	timeout   time.Duration
	observers []Observer
	logger    *zap.Logger
}

// New creates a Locator. candidateTimeout is clamped to [MinCandidateTimeout, MaxCandidateTimeout].
func New(table Table, candidateTimeout time.Duration, logger *zap.Logger, observers ...Observer) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		table:     table,
		timeout:   clampTimeout(candidateTimeout),
		observers: observers,
		logger:    logger,
	}
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultCandidateTimeout
	case d < MinCandidateTimeout:
		return MinCandidateTimeout
	case d > MaxCandidateTimeout:
		return MaxCandidateTimeout
	default:
		return d
	}
}

// Candidates returns the queries configured for field.
func (l *Locator) Candidates(field Field) []browser.Query {
	return l.table[field]
}

// Resolve returns the first candidate of field that reaches opts.Mode.
// The only error returned is the caller's context error.
func (l *Locator) Resolve(ctx context.Context, page browser.Page, field Field, opts Options) (Resolution, error) {
	timeout := l.timeout
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}
	for i, q := range l.table[field] {
		if err := ctx.Err(); err != nil {
			return Resolution{Field: field}, err
		}
		el, err := page.Query(ctx, q, opts.Mode, timeout)
		if err == nil && el != nil {
			l.observe(field, true, i)
			return Resolution{Field: field, Element: el, Candidate: i, Query: q, Found: true}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{Field: field}, ctxErr
		}
		if err != nil && !errors.Is(err, browser.ErrNotFound) {
			l.logger.Debug("candidate query failed",
				zap.String("field", string(field)),
				zap.Stringer("query", q),
				zap.Error(err),
			)
		}
	}
	l.observe(field, false, -1)
	return Resolution{Field: field}, nil
}

// Count returns the number of matches of the first candidate that matches anything.
func (l *Locator) Count(ctx context.Context, page browser.Page, field Field) (int, error) {
	els, _, err := l.all(ctx, page, field)
	return len(els), err
}

// All returns every element matched by the first candidate that matches anything.
func (l *Locator) All(ctx context.Context, page browser.Page, field Field) ([]browser.Element, error) {
	els, _, err := l.all(ctx, page, field)
	return els, err
}

func (l *Locator) all(ctx context.Context, page browser.Page, field Field) ([]browser.Element, int, error) {
	for i, q := range l.table[field] {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		els, err := page.QueryAll(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, -1, ctxErr
			}
			l.logger.Debug("candidate query-all failed",
				zap.String("field", string(field)),
				zap.Stringer("query", q),
				zap.Error(err),
			)
			continue
		}
		if len(els) > 0 {
			l.observe(field, true, i)
			return els, i, nil
		}
	}
	l.observe(field, false, -1)
	return nil, -1, nil
}

// Act resolves field and performs action on it. args[0] is the value for
// Fill and the label pattern for SelectLabel.
func (l *Locator) Act(ctx context.Context, page browser.Page, field Field, action Action, opts Options, args ...string) (ActResult, error) {
	res, err := l.Resolve(ctx, page, field, opts)
	if err != nil || !res.Found {
		return ActResult{Resolution: res}, err
	}
	actErr := perform(ctx, res.Element, action, args)
	if actErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ActResult{Resolution: res}, ctxErr
		}
		l.logger.Debug("field action failed",
			zap.String("field", string(field)),
			zap.String("action", string(action)),
			zap.Error(actErr),
		)
		return ActResult{Resolution: res, Err: actErr}, nil
	}
	return ActResult{Resolution: res, Done: true}, nil
}

func perform(ctx context.Context, el browser.Element, action Action, args []string) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	switch action {
	case Fill:
		return el.Fill(ctx, arg)
	case Click:
		return el.Click(ctx)
	case Submit:
		return el.Submit(ctx)
	case SelectLabel:
		return el.SelectLabel(ctx, arg)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func (l *Locator) observe(field Field, found bool, candidate int) {
	for _, o := range l.observers {
		o(field, found, candidate)
	}
}
