// Package throttle implements politeness delays between requests.
package throttle

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Sampler returns a value in [0, n). It exists so tests can pin the draw.
type Sampler func(n int64) int64

// Random sleeps for a duration drawn uniformly from [Min, Max].
type Random struct {
	min    time.Duration
	max    time.Duration
	sample Sampler
	sleep  func(ctx context.Context, d time.Duration)
}

// NewRandom builds a uniform delay policy.
func NewRandom(minDelay, maxDelay time.Duration) (*Random, error) {
	return NewRandomWithSampler(minDelay, maxDelay, cryptoSample)
}

// NewRandomWithSampler builds a uniform delay policy around a custom source.
func NewRandomWithSampler(minDelay, maxDelay time.Duration, sample Sampler) (*Random, error) {
	if minDelay < 0 || maxDelay < 0 {
		return nil, fmt.Errorf("delays must be >= 0 (min=%s max=%s)", minDelay, maxDelay)
	}
	if minDelay > maxDelay {
		return nil, fmt.Errorf("min delay %s exceeds max delay %s", minDelay, maxDelay)
	}
	if sample == nil {
		sample = cryptoSample
	}
	return &Random{
		min:    minDelay,
		max:    maxDelay,
		sample: sample,
		sleep:  Pause,
	}, nil
}

// Next draws the next delay without sleeping.
func (r *Random) Next() time.Duration {
	span := int64(r.max - r.min)
	if span <= 0 {
		return r.min
	}
	return r.min + time.Duration(r.sample(span+1))
}

// Wait sleeps for the next sampled delay or until ctx is done. It returns the
// sampled duration.
func (r *Random) Wait(ctx context.Context) time.Duration {
	d := r.Next()
	r.sleep(ctx, d)
	return d
}

// None never waits. Use it in tests.
type None struct{}

// Wait returns immediately.
func (None) Wait(context.Context) time.Duration { return 0 }

// Pause blocks for delay or until ctx is done.
func Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func cryptoSample(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return v.Int64()
}
