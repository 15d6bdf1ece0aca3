// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const defaultNavigationTimeout = 10 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	Headers           map[string]string
	NavigationTimeout time.Duration
	// ShowBrowser runs Chrome with a visible window. Useful when tuning
	// selectors against a live site.
	ShowBrowser bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Opener starts one Chrome instance per crawl.
type Opener struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedp creates an opener for chromedp-backed sessions.
func NewChromedp(cfg Config, logger *zap.Logger) (*Opener, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{cfg: cfg, logger: logger}, nil
}

// Open launches the browser, opens the shared tab and applies the network
// setup once. The browser outlives ctx; callers must Close the session.
func (o *Opener) Open(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), o.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts Chrome bound to the context it is given, so it
	// must be browserCtx itself. Canceling ctx during startup kills it.
	stopStartForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopStartForward()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	warmCtx, warmCancel := context.WithTimeout(browserCtx, o.cfg.NavigationTimeout)
	defer warmCancel()
	stopForward := forwardCancel(ctx, warmCancel)
	defer stopForward()

	if err := chromedp.Run(warmCtx, o.networkSetupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	o.logger.Info("headless browser started", zap.Bool("visible", o.cfg.ShowBrowser))

	return &Session{
		browserCtx:  browserCtx,
		allocCancel: allocCancel,
		timeout:     o.cfg.NavigationTimeout,
		logger:      o.logger,
	}, nil
}

func (o *Opener) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if o.cfg.ShowBrowser {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if o.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.cfg.UserAgent))
	}
	if o.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.cfg.ExecPath))
	}
	return opts
}

func (o *Opener) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if o.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(o.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(o.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(o.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// Session is a single Chrome tab reused for every navigation of a crawl.
// It is not safe for concurrent use.
type Session struct {
	browserCtx  context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *zap.Logger
}

// Fetch navigates the shared tab and waits for readySelector.
func (s *Session) Fetch(ctx context.Context, rawURL string, readySelector string) (*crawler.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
	}
	taskCtx, cancel := context.WithTimeout(s.browserCtx, s.timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var html, finalURL string
	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if readySelector != "" {
		actions = append(actions, chromedp.WaitReady(readySelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, classify(rawURL, err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	doc, err := crawler.ParseDocument(finalURL, strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
	}
	s.logger.Debug("page rendered", zap.String("url", finalURL), zap.Duration("took", time.Since(start)))
	return doc, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.browserCtx)
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// classify maps chromedp failures onto the navigation error classes. A
// deadline means the landmark never showed up.
func classify(rawURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationTimeout, rawURL, err)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
}

// forwardCancel cancels a task context derived from the browser when the
// caller's context ends.
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

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
