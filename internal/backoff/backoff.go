package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Jitter returns an exponential delay with full jitter.
//
//	delay = max(floor, rand(0, min(cap, base * 2^attempt)))
//
// floor is 100ms, or base when base is smaller.
func Jitter(attempt int, base, cap time.Duration) time.Duration {
	minDelay := min(100*time.Millisecond, base)
	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(cap) || exp <= 0 { // overflow guard
		exp = float64(cap)
	}
	if exp < 1 {
		return minDelay
	}
	jitter := time.Duration(rand.Int64N(int64(exp)))
	if jitter < minDelay {
		jitter = minDelay
	}
	return jitter
}

// Policy is a bounded retry with jittered exponential backoff.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 mean a single call.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	// Retryable reports whether err is worth another call. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. It returns the number of calls made and the
// last error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := range attempts {
		if err = fn(ctx); err == nil {
			return attempt + 1, nil
		}
		if attempt == attempts-1 || (p.Retryable != nil && !p.Retryable(err)) {
			return attempt + 1, err
		}
		delay := Jitter(attempt, p.Base, p.Cap)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt + 1, ctx.Err()
		case <-t.C:
		}
	}
	return attempts, err
}
