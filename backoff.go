package dynconf

import (
	"context"
	"math/rand"
	"time"
)

// backoff produces exponentially growing delays with jitter for retrying
// a single watched key after transport failures. Not safe for concurrent
// use; each watch goroutine owns one.
type backoff struct {
	base       time.Duration
	cap        time.Duration
	multiplier float64
	next       time.Duration
}

func newBackoff(base, cap time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}
	return &backoff{
		base:       base,
		cap:        cap,
		multiplier: 2.0,
		next:       base,
	}
}

// Next returns the delay to sleep before the next attempt and advances
// the sequence. Up to 25% jitter is added so a fleet of watchers does not
// hammer a recovering remote in lockstep.
func (b *backoff) Next() time.Duration {
	d := b.next

	grown := time.Duration(float64(b.next) * b.multiplier)
	if grown > b.cap || grown < b.next {
		grown = b.cap
	}
	b.next = grown

	if quarter := d / 4; quarter > 0 {
		d += time.Duration(rand.Int63n(int64(quarter)))
	}
	return d
}

// Reset returns the sequence to its base delay after a success.
func (b *backoff) Reset() {
	b.next = b.base
}

// sleepContext waits for d or until ctx is cancelled, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
