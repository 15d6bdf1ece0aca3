package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Reasons a host's robots.txt was replaced by an allow-all body.
const (
	fallbackReasonTimeout      = "timeout"
	fallbackReasonTLSHandshake = "tls_handshake_timeout"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard sits between the collector and the network. Page requests pass
// straight through. A robots.txt request that keeps timing out is answered
// with an allow-all body so an unreachable robots file cannot end the crawl;
// each host that falls back is reported once through onFallback.
type robotsGuard struct {
	base       http.RoundTripper
	backoff    []time.Duration
	onFallback func(host, reason string)

	mu        sync.Mutex
	fallbacks map[string]string
}

func newRobotsGuard(base http.RoundTripper, onFallback func(host, reason string)) *robotsGuard {
	return &robotsGuard{
		base:       base,
		backoff:    defaultRobotsBackoff,
		onFallback: onFallback,
		fallbacks:  make(map[string]string),
	}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard received nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("page roundtrip: %w", err)
		}
		return resp, nil
	}
	return g.fetchRobots(req)
}

func (g *robotsGuard) fetchRobots(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(g.backoff); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(req.Context(), g.backoff[attempt-1]); err != nil {
				return nil, fmt.Errorf("robots backoff: %w", err)
			}
		}
		resp, err := g.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if _, transient := fallbackReason(err); !transient {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		lastErr = err
	}
	reason, _ := fallbackReason(lastErr)
	g.markFallback(req.URL.Hostname(), reason)
	return allowAllResponse(req), nil
}

func (g *robotsGuard) markFallback(host, reason string) {
	g.mu.Lock()
	_, seen := g.fallbacks[host]
	if !seen {
		g.fallbacks[host] = reason
	}
	g.mu.Unlock()
	if !seen && g.onFallback != nil {
		g.onFallback(host, reason)
	}
}

// fallbackFor returns the recorded reason for host, if any.
func (g *robotsGuard) fallbackFor(host string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	reason, ok := g.fallbacks[host]
	return reason, ok
}

// fallbackReason classifies errors worth retrying.
func fallbackReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if strings.Contains(strings.ToLower(err.Error()), "tls handshake timeout") ||
		strings.Contains(err.Error(), "tls: handshake timeout") {
		return fallbackReasonTLSHandshake, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallbackReasonTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fallbackReasonTimeout, true
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}
