// Package headless implements the browser driver on top of chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

// Config controls the behavior of the headless browser.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	MaxParallel       int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Browser implements browser.Browser using chromedp. Each page is a separate tab.
type Browser struct {
	cfg           Config
	limiter       chan struct{}
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	closeOnce     sync.Once
}

// New launches Chrome and returns a Browser. A failure here is fatal for a run.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1280, 900
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:           cfg,
		limiter:       limiter,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
	})
	return nil
}

// NewPage opens a new tab in its own browser context, so pages never share
// cookies or storage. The caller must Close it.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	p := &Page{
		ctx:           tabCtx,
		cancel:        tabCancel,
		tracker:       newNetworkTracker(),
		navTimeout:    b.navTimeout(),
		actionTimeout: b.actionTimeout(),
		release:       b.release,
	}
	chromedp.ListenTarget(tabCtx, p.tracker.captureEvent)

	// The first Run binds the target's event loop to tabCtx, so it must not
	// carry a deadline of its own.
	stopWarmup := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stopWarmup()
	if err != nil {
		_ = p.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(tabCtx, p.actionTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(setupCtx, b.setupAction()); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := emulation.SetDeviceMetricsOverride(int64(b.cfg.WindowWidth), int64(b.cfg.WindowHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (b *Browser) actionTimeout() time.Duration {
	if b.cfg.ActionTimeout > 0 {
		return b.cfg.ActionTimeout
	}
	return 10 * time.Second
}

// forwardCancel cancels a chromedp task context when the caller's context ends.
// chromedp actions must run on a context derived from the tab, so the caller's
// cancellation is bridged rather than inherited.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// notFoundOr maps a timed-out query to browser.ErrNotFound unless the caller itself was canceled.
func notFoundOr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return browser.ErrNotFound
	}
	return err
}
