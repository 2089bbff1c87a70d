// Package poll provides a deadline-based wait primitive shared by the
// protocol phases that need to wait for an external condition.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is returned by Until when the deadline elapses before the
// condition becomes true.
var ErrDeadline = errors.New("poll: deadline exceeded")

// DefaultInterval is the polling interval used when Until is called with a
// non-positive interval.
const DefaultInterval = 50 * time.Millisecond

// Until polls cond at the given interval until it returns true, the
// timeout elapses, or ctx is cancelled.
//
// cond is evaluated once immediately before the first sleep. A non-nil
// error from cond aborts the wait and is returned as-is. On timeout the
// return value is ErrDeadline; on cancellation it is ctx.Err().
func Until(ctx context.Context, timeout time.Duration, interval time.Duration, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrDeadline
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
