package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Rate caps request throughput with a token bucket. It is usually chained
// after a Random delay so jitter never pushes the crawl above the ceiling.
type Rate struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRate builds a limiter allowing rps requests per second with the given
// burst. A non-positive rps never blocks.
func NewRate(rps float64, burst int) *Rate {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Rate{limiter: rate.NewLimiter(limit, burst), now: time.Now}
}

// Wait blocks until a token is available or ctx is done and returns the
// time spent blocked. It never returns early with ctx still live, so a
// caller that proceeds after Wait stays under the ceiling.
func (r *Rate) Wait(ctx context.Context) time.Duration {
	start := r.now()
	if err := r.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
		// The next token lands after ctx's deadline.
		<-ctx.Done()
	}
	return r.now().Sub(start)
}

// Delayer is satisfied by Random, Rate and None.
type Delayer interface {
	Wait(ctx context.Context) time.Duration
}

// Chain runs each Delayer in order and reports the total wait.
type Chain []Delayer

// Wait sums the waits of every link, stopping early once ctx is done.
func (c Chain) Wait(ctx context.Context) time.Duration {
	var total time.Duration
	for _, d := range c {
		if ctx.Err() != nil {
			break
		}
		total += d.Wait(ctx)
	}
	return total
}
