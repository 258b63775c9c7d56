package libops

import "time"

// Default lease parameters. The service's observed idle timeout is five
// minutes; keepalives must land well inside it.
const (
	// DefaultKeepAliveInterval is the maximum gap between keepalives.
	DefaultKeepAliveInterval = 30 * time.Second

	// minKeepAliveGap is the floor for the keepalive cadence, preventing a
	// nearly-expired lease from degenerating into a busy loop.
	minKeepAliveGap = 1 * time.Second
)

// LeaseClock computes when the next keepalive is due from the session's
// server-reported expiry. The cadence is half the remaining lease, clamped
// to [minKeepAliveGap, interval] — renewals always land comfortably before
// expiry even when the server grants a shorter lease than expected.
type LeaseClock struct {
	interval time.Duration
	floor    time.Duration

	// now is the time source. Tests override it.
	now func() time.Time
}

// NewLeaseClock creates a LeaseClock with the given maximum keepalive
// interval. Non-positive intervals fall back to DefaultKeepAliveInterval.
func NewLeaseClock(interval time.Duration) *LeaseClock {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	return &LeaseClock{interval: interval, floor: minKeepAliveGap, now: time.Now}
}

// NextDeadline returns the instant by which the next keepalive must be sent,
// given the session's current expiry. A zero expiresAt (server did not
// report one) falls back to the configured interval.
func (c *LeaseClock) NextDeadline(expiresAt time.Time) time.Time {
	now := c.now()

	if expiresAt.IsZero() {
		return now.Add(c.interval)
	}

	gap := expiresAt.Sub(now) / 2

	if gap > c.interval {
		gap = c.interval
	}

	if gap < c.floor {
		gap = c.floor
	}

	return now.Add(gap)
}

// Due reports whether the given deadline has been reached.
func (c *LeaseClock) Due(deadline time.Time) bool {
	return !c.now().Before(deadline)
}
