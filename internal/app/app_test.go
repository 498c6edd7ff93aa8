package app_test

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shopfinder-crawler/internal/app"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser/static"
	"github.com/JakeFAU/shopfinder-crawler/internal/config"
	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// MockSink mocks the sink.Sink interface.
type MockSink struct {
	mock.Mock
}

// Write satisfies sink.Sink.
func (m *MockSink) Write(ctx context.Context, rec record.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// Close satisfies sink.Sink.
func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

func fixtureSite(t *testing.T, zipParam string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/suche":
			if r.URL.Query().Get(zipParam) != "80331" {
				_, _ = fmt.Fprint(w, `<html><body><p>Keine Treffer</p></body></html>`)
				return
			}
			_, _ = fmt.Fprint(w, `<html><body>
				<a class="dealer__link" href="/haendler/1">Details</a>
				<a class="dealer__link" href="/haendler/2">Details</a></body></html>`)
		case "/haendler/1", "/haendler/2":
			_, _ = fmt.Fprintf(w, `<html><body><h1>Naturkost %[1]s</h1>
				<div class="dealer__address">Marienplatz %[1]s<br>80331 München</div></body></html>`, r.URL.Path[len("/haendler/"):])
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, listingURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Site.ListingURL = listingURL
	cfg.Search.SettleDelay = 0
	cfg.Search.CandidateTimeout = 500 * time.Millisecond
	cfg.Search.QuiescenceTimeout = time.Second
	cfg.Convergence.RoundDelay = 10 * time.Millisecond
	cfg.Convergence.ScrollPause = 0
	cfg.Detail.RateLimit.RPS = 0
	cfg.Output.JSONL.Path = filepath.Join(t.TempDir(), "shops.jsonl")
	return cfg
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}

func TestAppRunWritesEveryOutput(t *testing.T) {
	t.Parallel()

	cfg0, err := config.Load("")
	require.NoError(t, err)
	srv := fixtureSite(t, cfg0.Site.ZipParam)
	mr := miniredis.RunT(t)

	cfg := testConfig(t, srv.URL+"/suche")
	cfg.Output.Redis.Enabled = true
	cfg.Output.Redis.Address = mr.Addr()
	cfg.Output.Redis.Key = "run"
	require.NoError(t, cfg.Validate())

	extra := new(MockSink)
	extra.On("Write", mock.Anything, mock.AnythingOfType("record.Record")).Return(nil).Times(2)

	a, err := app.New(context.Background(), cfg, nil,
		app.WithBrowser(static.New(cfg.StaticConfig(), nil)),
		app.WithSink(extra),
	)
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())

	sum, err := a.Run(context.Background(), []string{"80331", "10115"})
	require.NoError(t, err)
	assert.Equal(t, a.RunID(), sum.RunID)
	assert.Equal(t, 2, sum.Saved)
	assert.Zero(t, sum.Errors)
	require.Len(t, sum.PostalCodes, 2)
	assert.Zero(t, sum.PostalCodes[1].Links)
	assert.Empty(t, sum.PostalCodes[1].Error)

	require.NoError(t, a.Close())
	assert.Equal(t, 2, countLines(t, cfg.Output.JSONL.Path))
	stored, err := mr.List("run")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	extra.AssertExpectations(t)
	extra.AssertNotCalled(t, "Close")
}

func TestAppRunServesStatus(t *testing.T) {
	t.Parallel()

	cfg0, err := config.Load("")
	require.NoError(t, err)
	srv := fixtureSite(t, cfg0.Site.ZipParam)

	cfg := testConfig(t, srv.URL+"/suche")
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	a, err := app.New(context.Background(), cfg, nil, app.WithBrowser(static.New(cfg.StaticConfig(), nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sum, err := a.Run(context.Background(), []string{"80331"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Saved)
	assert.False(t, a.Runner().Snapshot().Running())
}

func TestAppNewFailsOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, "https://shops.example.org/suche")
	cfg.Output.Redis.Enabled = true
	cfg.Output.Redis.Address = addr

	_, err := app.New(context.Background(), cfg, nil, app.WithBrowser(static.New(static.Config{}, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open redis output")
}

func TestAppNewRejectsBadSelectors(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://shops.example.org/suche")
	cfg.Selectors = map[string][]string{"shop-logo": {"css:img.logo"}}

	_, err := app.New(context.Background(), cfg, nil, app.WithBrowser(static.New(static.Config{}, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector table")
}

func TestAppRunInterrupted(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://shops.example.org/suche")
	a, err := app.New(context.Background(), cfg, nil, app.WithBrowser(static.New(static.Config{}, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Run(ctx, []string{"80331"})
	require.ErrorIs(t, err, context.Canceled)
}
