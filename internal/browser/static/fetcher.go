// Package static implements the browser driver over plain HTTP using colly,
// with goquery and htmlquery answering element queries. It cannot run
// JavaScript or interact with forms; pages that need neither (detail pages,
// URL-parameter listings) work unchanged.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Browser hands out static pages that share one collector.
type Browser struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Browser{cfg: cfg, baseCollector: c, logger: logger}
}

// NewPage returns an empty page; Navigate loads content into it.
func (b *Browser) NewPage(_ context.Context) (browser.Page, error) {
	return &Page{fetch: b.fetch}, nil
}

// Close is a no-op; the collector holds no long-lived resources.
func (b *Browser) Close() error {
	return nil
}

type fetchResult struct {
	finalURL string
	body     []byte
}

func (b *Browser) fetch(ctx context.Context, rawURL string, timeout time.Duration) (fetchResult, error) {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !b.cfg.RespectRobots
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   fetchResult
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = fetchResult{
			finalURL: r.Request.URL.String(),
			body:     append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fetchResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fetchResult{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return fetchResult{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		b.logger.Debug("static page fetched", zap.String("url", result.finalURL), zap.Int("bytes", len(result.body)))
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
