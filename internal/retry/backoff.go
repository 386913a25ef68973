// Package retry retries transient failures with exponential backoff.
// The server uses it to ride out accept errors such as running out of
// file descriptors without spinning or giving up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that [Backoff.Do] returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with [Permanent].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with exponentially growing pauses.
// Zero fields fall back to the defaults noted on each one.
type Backoff struct {
	InitialDelay time.Duration // 1s
	MaxDelay     time.Duration // 60s
	Multiplier   float64       // 2.0

	// MaxAttempts counts the first try.  0 retries until ctx is done.
	MaxAttempts int

	// Jitter spreads each pause by ±25%.
	Jitter bool

	// OnRetry, if set, is called before each pause.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// AcceptBackoff is tuned for a listener's accept loop: it starts at
// 5ms, caps at one second and never gives up on its own.
func AcceptBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
}

// Do calls fn until it returns nil, returns a [Permanent] error, runs
// out of attempts, or ctx is done.  attempt starts at 1.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := orDuration(b.InitialDelay, time.Second)
	maxDelay := orDuration(b.MaxDelay, 60*time.Second)
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}

		delay = time.Duration(math.Min(float64(delay)*mult, float64(maxDelay)))
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// addJitter moves d by up to 25% either way, never below 1ms.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
