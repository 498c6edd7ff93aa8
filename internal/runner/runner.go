// Package runner drives a scrape run: for each postal code it searches the
// listing, expands the results, visits every detail page and hands the
// resulting records to the sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/converge"
	"github.com/JakeFAU/shopfinder-crawler/internal/metrics"
	"github.com/JakeFAU/shopfinder-crawler/internal/record"
	"github.com/JakeFAU/shopfinder-crawler/internal/session"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink"
)

const tracerName = "github.com/JakeFAU/shopfinder-crawler/internal/runner"

// Postal code outcomes reported to metrics.
const (
	outcomeDone   = "done"
	outcomeFailed = "failed"
)

// Searcher runs one search session on a page.
type Searcher interface {
	Run(ctx context.Context, page browser.Page, postalCode string) (session.Outcome, error)
}

// Expander loads every result of a rendered listing.
type Expander interface {
	Run(ctx context.Context, page browser.Page) (converge.Result, error)
}

// Extractor reads one detail page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page, detailURL string) (record.Raw, error)
}

// Waiter spaces out detail visits.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// IDGenerator creates run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Dependencies are the collaborators of a Runner. Listing and Detail may be
// the same browser.
type Dependencies struct {
	Listing   browser.Browser
	Detail    browser.Browser
	Session   Searcher
	Loader    Expander
	Extractor Extractor
	Sink      sink.Sink
	Limiter   Waiter
	IDs       IDGenerator
	Clock     Clock
}

// Config controls concurrency.
type Config struct {
	// Workers is the number of postal codes processed at once, each on its own page.
	Workers int
	// RunID overrides the generated run ID.
	RunID string
}

// PostalSummary is the outcome of one postal code.
type PostalSummary struct {
	PostalCode   string `json:"postalCode"`
	Links        int    `json:"links"`
	Saved        int    `json:"saved"`
	Errors       int    `json:"errors"`
	Duplicates   int    `json:"duplicates"`
	UsedFallback bool   `json:"usedFallback"`
	Rounds       int    `json:"rounds"`
	Stop         string `json:"stop,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	RunID       string          `json:"runId"`
	PostalCodes []PostalSummary `json:"postalCodes"`
	Saved       int             `json:"saved"`
	Errors      int             `json:"errors"`
	Duplicates  int             `json:"duplicates"`
	Started     time.Time       `json:"started"`
	Finished    time.Time       `json:"finished"`
}

// Running reports whether the run has started and not yet finished.
func (s Summary) Running() bool {
	return !s.Started.IsZero() && s.Finished.IsZero()
}

func (s *Summary) add(ps PostalSummary) {
	s.PostalCodes = append(s.PostalCodes, ps)
	s.Saved += ps.Saved
	s.Errors += ps.Errors
	s.Duplicates += ps.Duplicates
}

// Runner executes runs. A Runner is used for one run at a time.
type Runner struct {
	cfg    Config
	deps   Dependencies
	dedup  *record.Deduper
	logger *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// New constructs a Runner.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Runner, error) {
	if deps.Listing == nil || deps.Session == nil || deps.Loader == nil || deps.Extractor == nil || deps.Sink == nil {
		return nil, errors.New("runner: listing browser, session, loader, extractor and sink are required")
	}
	if deps.Detail == nil {
		deps.Detail = deps.Listing
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Runner{cfg: cfg, deps: deps, dedup: record.NewDeduper(), logger: logger}, nil
}

// Snapshot returns a copy of the run summary so far.
func (r *Runner) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.summary
	out.PostalCodes = append([]PostalSummary(nil), r.summary.PostalCodes...)
	return out
}

// Run processes codes in order, or with Config.Workers pages in parallel.
// Failures of single postal codes are recorded in the summary and never stop
// the run; only a cancelled ctx ends it early, in which case the partial
// summary is returned with ctx's error.
func (r *Runner) Run(ctx context.Context, codes []string) (Summary, error) {
	runID, err := r.runID()
	if err != nil {
		return Summary{}, err
	}
	r.mu.Lock()
	r.summary = Summary{RunID: runID, Started: r.now()}
	r.mu.Unlock()

	log := r.logger.With(zap.String("run_id", runID))
	log.Info("run started", zap.Int("postal_codes", len(codes)), zap.Int("workers", r.cfg.Workers))

	if r.cfg.Workers == 1 || len(codes) < 2 {
		r.sequential(ctx, codes, log)
	} else {
		r.parallel(ctx, codes, log)
	}

	r.mu.Lock()
	r.summary.Finished = r.now()
	r.mu.Unlock()
	sum := r.Snapshot()
	log.Info("run finished",
		zap.Int("postal_codes", len(sum.PostalCodes)),
		zap.Int("saved", sum.Saved),
		zap.Int("errors", sum.Errors),
		zap.Int("duplicates", sum.Duplicates),
		zap.Duration("elapsed", sum.Finished.Sub(sum.Started)),
	)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("run interrupted: %w", err)
	}
	return sum, nil
}

func (r *Runner) sequential(ctx context.Context, codes []string, log *zap.Logger) {
	for _, code := range codes {
		if ctx.Err() != nil {
			return
		}
		r.record(r.processCode(ctx, code, log))
	}
}

// parallel hands codes to workers. Summaries keep input order.
func (r *Runner) parallel(ctx context.Context, codes []string, log *zap.Logger) {
	workers := min(r.cfg.Workers, len(codes))
	results := make([]*PostalSummary, len(codes))
	next := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(next)
		for i := range codes {
			select {
			case next <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range next {
				ps := r.processCode(gctx, codes[i], log.With(zap.Int("worker", w)))
				results[i] = &ps
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ps := range results {
		if ps != nil {
			r.record(*ps)
		}
	}
}

func (r *Runner) record(ps PostalSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.add(ps)
}

// processCode runs session, convergence and detail visits for one postal code.
func (r *Runner) processCode(ctx context.Context, code string, log *zap.Logger) PostalSummary {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "postal_code",
		trace.WithAttributes(attribute.String("shopfinder.postal_code", code)))
	defer span.End()

	log = log.With(zap.String("postal_code", code))
	ps := PostalSummary{PostalCode: code}
	fail := func(stage string, err error) PostalSummary {
		ps.Error = fmt.Sprintf("%s: %v", stage, err)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, stage)
		metrics.ObservePostalCode(outcomeFailed)
		log.Error("postal code failed", zap.String("stage", stage), zap.Error(err))
		return ps
	}

	page, err := r.deps.Listing.NewPage(ctx)
	if err != nil {
		return fail("open listing page", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("close listing page", zap.Error(err))
		}
	}()

	outcome, err := r.deps.Session.Run(ctx, page, code)
	ps.UsedFallback = outcome.UsedFallback
	if outcome.UsedFallback {
		metrics.ObserveSessionFallback()
	}
	if err != nil {
		return fail("search", err)
	}

	res, err := r.deps.Loader.Run(ctx, page)
	if err != nil {
		return fail("load results", err)
	}
	ps.Links = res.Count
	ps.Rounds = res.TotalRounds
	ps.Stop = string(res.Stop)
	metrics.ObserveConvergence(ps.Stop, res.TotalRounds)
	log.Info("results loaded",
		zap.Int("links", res.Count),
		zap.Int("rounds", res.TotalRounds),
		zap.String("stop", ps.Stop),
		zap.Bool("fallback", ps.UsedFallback),
	)

	for _, entry := range res.Entries {
		if ctx.Err() != nil {
			break
		}
		if !r.dedup.Admit(entry.URL) {
			ps.Duplicates++
			metrics.ObserveRecord(metrics.RecordDuplicate)
			continue
		}
		rec := r.visit(ctx, entry.URL, code, log)
		if err := r.deps.Sink.Write(ctx, rec); err != nil {
			log.Error("sink write failed", zap.String("url", entry.URL), zap.Error(err))
			// Unwritten URLs stay eligible for later postal codes.
			r.dedup.Forget(entry.URL)
			ps.Errors++
			metrics.ObserveRecord(metrics.RecordError)
			continue
		}
		if rec.Failed() {
			ps.Errors++
			metrics.ObserveRecord(metrics.RecordError)
			continue
		}
		ps.Saved++
		metrics.ObserveRecord(metrics.RecordSaved)
	}

	if err := ctx.Err(); err != nil {
		return fail("detail pages", err)
	}
	metrics.ObservePostalCode(outcomeDone)
	span.SetAttributes(
		attribute.Int("shopfinder.links", ps.Links),
		attribute.Int("shopfinder.saved", ps.Saved),
	)
	log.Info("postal code done",
		zap.Int("links", ps.Links),
		zap.Int("saved", ps.Saved),
		zap.Int("errors", ps.Errors),
		zap.Int("duplicates", ps.Duplicates),
	)
	return ps
}

// visit opens a fresh page for detailURL and always returns a record: the
// extracted one, or an error-marked one.
func (r *Runner) visit(ctx context.Context, detailURL, code string, log *zap.Logger) record.Record {
	if r.deps.Limiter != nil {
		if err := r.deps.Limiter.Wait(ctx, detailURL); err != nil {
			return record.ErrorRecord(detailURL, code, err)
		}
	}
	page, err := r.deps.Detail.NewPage(ctx)
	if err != nil {
		log.Warn("open detail page", zap.String("url", detailURL), zap.Error(err))
		return record.ErrorRecord(detailURL, code, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("close detail page", zap.String("url", detailURL), zap.Error(err))
		}
	}()

	raw, err := r.deps.Extractor.Extract(ctx, page, detailURL)
	if err != nil {
		log.Warn("detail page failed", zap.String("url", detailURL), zap.Error(err))
		return record.ErrorRecord(detailURL, code, err)
	}
	return record.Normalize(raw, detailURL, code)
}

func (r *Runner) runID() (string, error) {
	if r.cfg.RunID != "" {
		return r.cfg.RunID, nil
	}
	if r.deps.IDs == nil {
		return "", errors.New("runner: no run id configured")
	}
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (r *Runner) now() time.Time {
	if r.deps.Clock == nil {
		return time.Now().UTC()
	}
	return r.deps.Clock.Now()
}
