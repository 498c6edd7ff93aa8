package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser/static"
	"github.com/JakeFAU/shopfinder-crawler/internal/converge"
	"github.com/JakeFAU/shopfinder-crawler/internal/extract"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
	"github.com/JakeFAU/shopfinder-crawler/internal/record"
	"github.com/JakeFAU/shopfinder-crawler/internal/session"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/memory"
)

type fakePage struct {
	browser.Page
	code   string
	closed *atomic.Int32
}

func (p *fakePage) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeBrowser struct {
	opened atomic.Int32
	closed atomic.Int32
	err    error
}

func (b *fakeBrowser) NewPage(context.Context) (browser.Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.opened.Add(1)
	return &fakePage{closed: &b.closed}, nil
}

func (b *fakeBrowser) Close() error {
	return nil
}

type fakeSearcher struct {
	fail     map[string]error
	fallback map[string]bool
}

func (s *fakeSearcher) Run(_ context.Context, page browser.Page, code string) (session.Outcome, error) {
	page.(*fakePage).code = code
	out := session.Outcome{PostalCode: code, UsedFallback: s.fallback[code]}
	return out, s.fail[code]
}

type fakeExpander struct {
	links map[string][]string
}

func (e *fakeExpander) Run(_ context.Context, page browser.Page) (converge.Result, error) {
	res := converge.Result{Stop: converge.StopStable}
	res.TotalRounds = 4
	for _, u := range e.links[page.(*fakePage).code] {
		res.Entries = append(res.Entries, converge.Entry{URL: u})
	}
	res.Count = len(res.Entries)
	return res, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	visited []string
	fail    map[string]error
	onVisit func(string)
}

func (e *fakeExtractor) Extract(_ context.Context, _ browser.Page, u string) (record.Raw, error) {
	e.mu.Lock()
	e.visited = append(e.visited, u)
	e.mu.Unlock()
	if e.onVisit != nil {
		e.onVisit(u)
	}
	if err := e.fail[u]; err != nil {
		return nil, err
	}
	return record.Raw{record.FieldName: "Shop " + u[strings.LastIndex(u, "/")+1:]}, nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) {
	return "run-1", nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFakeRunner(t *testing.T, workers int, b *fakeBrowser, s *fakeSearcher, e *fakeExpander, x *fakeExtractor) (*Runner, *memory.Sink) {
	t.Helper()
	out := memory.New()
	r, err := New(Config{Workers: workers}, Dependencies{
		Listing:   b,
		Session:   s,
		Loader:    e,
		Extractor: x,
		Sink:      out,
		IDs:       fixedIDs{},
		Clock:     &fakeClock{now: time.Unix(0, 0).UTC()},
	}, nil)
	require.NoError(t, err)
	return r, out
}

func TestRunSequentialCountsSavedErrorsAndDuplicates(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s := &fakeSearcher{fallback: map[string]bool{"10115": true}}
	e := &fakeExpander{links: map[string][]string{
		"80331": {"https://x.de/h/1", "https://x.de/h/2"},
		"10115": {"https://x.de/h/2", "https://x.de/h/3"},
	}}
	x := &fakeExtractor{fail: map[string]error{"https://x.de/h/3": extract.ErrDetailPage}}
	r, out := newFakeRunner(t, 1, b, s, e, x)

	sum, err := r.Run(context.Background(), []string{"80331", "10115"})
	require.NoError(t, err)

	require.Equal(t, "run-1", sum.RunID)
	require.Equal(t, 2, sum.Saved)
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, 1, sum.Duplicates)
	require.True(t, sum.Finished.After(sum.Started))
	require.False(t, sum.Running())
	require.Equal(t, []PostalSummary{
		{PostalCode: "80331", Links: 2, Saved: 2, Rounds: 4, Stop: "stable"},
		{PostalCode: "10115", Links: 2, Errors: 1, Duplicates: 1, UsedFallback: true, Rounds: 4, Stop: "stable"},
	}, sum.PostalCodes)

	recs := out.Records()
	require.Len(t, recs, 3)
	require.Equal(t, "Shop 1", *recs[0].Name)
	require.Equal(t, "80331", *recs[0].SourceQueryCode)
	require.True(t, recs[2].Failed())
	require.Equal(t, "https://x.de/h/3", recs[2].SourceURL)
	require.Equal(t, "10115", *recs[2].SourceQueryCode)
	require.Nil(t, recs[2].Name)

	// Two listing pages plus three detail tabs, all closed.
	require.EqualValues(t, 5, b.opened.Load())
	require.EqualValues(t, 5, b.closed.Load())
}

func TestRunContinuesAfterFailedPostalCode(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s := &fakeSearcher{fail: map[string]error{"80331": session.ErrSessionFailed}}
	e := &fakeExpander{links: map[string][]string{"10115": {"https://x.de/h/9"}}}
	r, out := newFakeRunner(t, 1, b, s, e, &fakeExtractor{})

	sum, err := r.Run(context.Background(), []string{"80331", "10115"})
	require.NoError(t, err)
	require.Len(t, sum.PostalCodes, 2)
	require.Contains(t, sum.PostalCodes[0].Error, "search")
	require.Equal(t, 1, sum.PostalCodes[1].Saved)
	require.Len(t, out.Records(), 1)
	require.Equal(t, b.opened.Load(), b.closed.Load())
}

func TestRunListingPageFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{err: errors.New("browser gone")}
	r, out := newFakeRunner(t, 1, b, &fakeSearcher{}, &fakeExpander{}, &fakeExtractor{})

	sum, err := r.Run(context.Background(), []string{"80331"})
	require.NoError(t, err)
	require.Contains(t, sum.PostalCodes[0].Error, "browser gone")
	require.Empty(t, out.Records())
}

func TestRunParallelKeepsInputOrder(t *testing.T) {
	t.Parallel()

	codes := make([]string, 12)
	links := make(map[string][]string, len(codes))
	for i := range codes {
		codes[i] = fmt.Sprintf("%05d", 10000+i)
		// Neighbouring codes share a shop.
		links[codes[i]] = []string{
			fmt.Sprintf("https://x.de/h/%d", i),
			fmt.Sprintf("https://x.de/h/%d", i+1),
		}
	}
	b := &fakeBrowser{}
	x := &fakeExtractor{}
	r, out := newFakeRunner(t, 4, b, &fakeSearcher{}, &fakeExpander{links: links}, x)

	sum, err := r.Run(context.Background(), codes)
	require.NoError(t, err)
	require.Len(t, sum.PostalCodes, len(codes))
	for i, ps := range sum.PostalCodes {
		require.Equal(t, codes[i], ps.PostalCode)
	}
	require.Equal(t, 13, sum.Saved)
	require.Equal(t, 11, sum.Duplicates)
	require.Len(t, out.Records(), 13)
	require.Len(t, x.visited, 13)
	require.Equal(t, b.opened.Load(), b.closed.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := &fakeExpander{links: map[string][]string{
		"80331": {"https://x.de/h/1", "https://x.de/h/2", "https://x.de/h/3"},
		"10115": {"https://x.de/h/4"},
	}}
	x := &fakeExtractor{onVisit: func(u string) {
		if u == "https://x.de/h/1" {
			cancel()
		}
	}}
	r, out := newFakeRunner(t, 1, &fakeBrowser{}, &fakeSearcher{}, e, x)

	sum, err := r.Run(ctx, []string{"80331", "10115"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"https://x.de/h/1"}, x.visited)
	require.Len(t, sum.PostalCodes, 1)
	require.Len(t, out.Records(), 1)
}

// flakySink fails the first write for each URL in failOnce.
type flakySink struct {
	*memory.Sink
	mu       sync.Mutex
	failOnce map[string]bool
}

func (s *flakySink) Write(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	fail := s.failOnce[rec.SourceURL]
	delete(s.failOnce, rec.SourceURL)
	s.mu.Unlock()
	if fail {
		return errors.New("output unavailable")
	}
	return s.Sink.Write(ctx, rec)
}

func TestRunRetriesURLAfterFailedWrite(t *testing.T) {
	t.Parallel()

	out := &flakySink{Sink: memory.New(), failOnce: map[string]bool{"https://x.de/h/2": true}}
	x := &fakeExtractor{}
	r, err := New(Config{Workers: 1}, Dependencies{
		Listing: &fakeBrowser{},
		Session: &fakeSearcher{},
		Loader: &fakeExpander{links: map[string][]string{
			"80331": {"https://x.de/h/1", "https://x.de/h/2"},
			"10115": {"https://x.de/h/2"},
		}},
		Extractor: x,
		Sink:      out,
		IDs:       fixedIDs{},
		Clock:     &fakeClock{now: time.Unix(0, 0).UTC()},
	}, nil)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), []string{"80331", "10115"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.PostalCodes[0].Errors)
	require.Equal(t, 1, sum.PostalCodes[1].Saved)
	require.Zero(t, sum.Duplicates)
	require.Equal(t, []string{"https://x.de/h/1", "https://x.de/h/2", "https://x.de/h/2"}, x.visited)

	recs := out.Records()
	require.Len(t, recs, 2)
	require.Equal(t, "https://x.de/h/2", recs[1].SourceURL)
	require.Equal(t, "10115", *recs[1].SourceQueryCode)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Dependencies{}, nil)
	require.Error(t, err)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r, _ := newFakeRunner(t, 1, &fakeBrowser{}, &fakeSearcher{}, &fakeExpander{}, &fakeExtractor{})
	_, err := r.Run(context.Background(), []string{"80331"})
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.PostalCodes[0].PostalCode = "changed"
	require.Equal(t, "80331", r.Snapshot().PostalCodes[0].PostalCode)
}

// TestRunAgainstStaticSite drives the real components over an HTTP fixture
// site. The static driver cannot submit forms, so every search takes the
// URL fallback.
func TestRunAgainstStaticSite(t *testing.T) {
	t.Parallel()

	const zipParam = "tx_splashshopfinder_shopfinder[search][location]"
	const radiusParam = "tx_splashshopfinder_shopfinder[search][radius]"
	listings := map[string]string{
		"80331": `<a class="dealer__link" href="/haendler/1">Details</a>
			<a class="dealer__link" href="/haendler/2">Details</a>
			<a class="dealer__link" href="/haendler/1#karte">Details</a>`,
		"10115": `<a class="dealer__link" href="/haendler/2">Details</a>
			<a class="dealer__link" href="/haendler/3">Details</a>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch {
		case r.URL.Path == "/bio-haendler-suche":
			links := listings[r.URL.Query().Get(zipParam)]
			_, _ = fmt.Fprintf(w, `<html><body><h1>Händlersuche</h1>%s</body></html>`, links)
		case r.URL.Path == "/haendler/3":
			http.Error(w, "boom", http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/haendler/"):
			id := strings.TrimPrefix(r.URL.Path, "/haendler/")
			_, _ = fmt.Fprintf(w, `<html><body><h1>Bioladen %s</h1>
				<div class="dealer__address">Hauptstraße %s<br>12345 Musterstadt</div>
				<a href="tel:+49123%s">Anrufen</a></body></html>`, id, id, id)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	loc := locator.New(locator.DefaultTable(), 500*time.Millisecond, nil)
	drv := static.New(static.Config{Timeout: 5 * time.Second}, nil)
	ex, err := extract.New(extract.Config{SiteDomain: "127.0.0.1"}, loc, nil)
	require.NoError(t, err)
	out := memory.New()

	r, err := New(Config{RunID: "fixture"}, Dependencies{
		Listing: drv,
		Session: session.New(session.Config{
			ListingURL:  srv.URL + "/bio-haendler-suche",
			ZipParam:    zipParam,
			RadiusParam: radiusParam,
			RadiusKm:    50,
		}, loc, nil),
		Loader:    converge.New(converge.Config{}, loc, nil, nil),
		Extractor: ex,
		Sink:      out,
	}, nil)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), []string{"80331", "10115"})
	require.NoError(t, err)
	require.Equal(t, "fixture", sum.RunID)
	require.Equal(t, 2, sum.Saved)
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, 1, sum.Duplicates)
	require.True(t, sum.PostalCodes[0].UsedFallback)
	require.Equal(t, "stable", sum.PostalCodes[0].Stop)

	recs := out.Records()
	require.Len(t, recs, 3)
	require.Equal(t, "Bioladen 1", *recs[0].Name)
	require.Equal(t, "Hauptstraße 1", *recs[0].Street)
	require.Equal(t, "12345", *recs[0].PostalCode)
	require.Equal(t, "+491231", *recs[0].Phone)
	require.Equal(t, srv.URL+"/haendler/1", recs[0].SourceURL)
	require.True(t, recs[2].Failed())
	require.Equal(t, srv.URL+"/haendler/3", recs[2].SourceURL)
}
