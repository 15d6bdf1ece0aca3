// Package collyfetcher implements a static-HTML PageFetcher using gocolly.
// It suits listing sources that render server side and need no browser.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Headers       map[string]string
	RespectRobots bool
	Timeout       time.Duration
}

// Opener builds one collector per crawl session.
type Opener struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
	observer  crawler.FetchObserver
}

// New builds an Opener. A nil transport uses a pooled http.Transport.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Opener {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if transport == nil {
		transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{cfg: cfg, transport: transport, logger: logger}
}

// WithObserver reports robots.txt fallbacks to obs.
func (o *Opener) WithObserver(obs crawler.FetchObserver) *Opener {
	o.observer = obs
	return o
}

// Open creates the session collector. It never touches the network.
func (o *Opener) Open(_ context.Context) (crawler.Session, error) {
	c := colly.NewCollector(colly.Async(false))
	// Clones share visited-URL storage.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !o.cfg.RespectRobots
	if o.cfg.UserAgent != "" {
		c.UserAgent = o.cfg.UserAgent
	}
	c.SetRequestTimeout(o.cfg.Timeout)

	s := &Session{
		cfg:       o.cfg,
		collector: c,
		transport: o.transport,
		logger:    o.logger,
	}
	if o.cfg.RespectRobots {
		s.robots = newRobotsGuard(o.transport, o.reportFallback)
		c.WithTransport(s.robots)
	} else {
		c.WithTransport(o.transport)
	}
	return s, nil
}

func (o *Opener) reportFallback(host, reason string) {
	o.logger.Warn("robots.txt unreachable; crawling host as allow-all",
		zap.String("host", host),
		zap.String("reason", reason),
	)
	if o.observer != nil {
		o.observer.RobotsFallback(host, reason)
	}
}

// Session fetches pages through one shared collector.
type Session struct {
	cfg       Config
	collector *colly.Collector
	transport http.RoundTripper
	robots    *robotsGuard
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type pageResult struct {
	body     []byte
	finalURL string
	err      error
}

// Fetch performs a GET and checks readySelector against the parsed body. A
// static page cannot grow its landmark later, so a missing one is reported
// as a navigation timeout.
func (s *Session) Fetch(ctx context.Context, rawURL string, readySelector string) (*crawler.Document, error) {
	var result pageResult
	collector := s.collector.Clone()
	s.configureCollectorHooks(collector, &result)

	if err := s.runCollector(ctx, collector, rawURL, &result); err != nil {
		return nil, err
	}

	finalURL := result.finalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	doc, err := crawler.ParseDocument(finalURL, bytes.NewReader(result.body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
	}
	if readySelector != "" && doc.Find(readySelector).Length() == 0 {
		return nil, fmt.Errorf("%w: %s: landmark %q not present", crawler.ErrNavigationTimeout, rawURL, readySelector)
	}
	return doc, nil
}

// Close drops idle keep-alive connections.
func (s *Session) Close() error {
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (s *Session) configureCollectorHooks(hooks collectorHooks, result *pageResult) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, value := range s.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			result.finalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		result.err = err
	})
}

func (s *Session) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, result *pageResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, ctx.Err())
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if err != nil {
			return classify(rawURL, err)
		}
		return nil
	}
}

// classify maps transport failures onto the navigation error classes.
func classify(rawURL string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationTimeout, rawURL, err)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationError, rawURL, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
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
