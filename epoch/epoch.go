// Package epoch maps wall-clock time to discrete epoch identifiers.
//
// Epochs are the canonical time bucket for liveness attestation: every
// heartbeat cycle and every payout claim is scoped to exactly one epoch.
// Epochs are always derived from wall-clock time; the anchor's
// last-published epoch is a convenience accessor, never an epoch source.
package epoch

import "time"

// Epoch is floor(unix_seconds / epoch_duration), strictly increasing
// with wall-clock time.
type Epoch uint64

// DefaultDuration matches the reference behavior of hourly epochs.
const DefaultDuration = 3600 * time.Second

// Clock converts wall-clock time into epochs for a fixed duration.
type Clock struct {
	duration time.Duration
	now      func() time.Time
}

// NewClock returns a Clock with the given epoch duration.
// A non-positive duration falls back to DefaultDuration.
func NewClock(duration time.Duration) *Clock {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Clock{duration: duration, now: time.Now}
}

// NewClockAt returns a Clock whose notion of "now" is supplied by nowFn.
// Used by tests to pin time.
func NewClockAt(duration time.Duration, nowFn func() time.Time) *Clock {
	c := NewClock(duration)
	c.now = nowFn
	return c
}

// Duration returns the epoch duration.
func (c *Clock) Duration() time.Duration {
	return c.duration
}

// CurrentEpoch returns the epoch containing the current wall-clock time.
func (c *Clock) CurrentEpoch() Epoch {
	return c.EpochAt(c.now())
}

// EpochAt returns the epoch containing t.
func (c *Clock) EpochAt(t time.Time) Epoch {
	return Epoch(uint64(t.Unix()) / uint64(c.duration/time.Second))
}

// StartOf returns the wall-clock instant at which e begins.
func (c *Clock) StartOf(e Epoch) time.Time {
	return time.Unix(int64(uint64(e)*uint64(c.duration/time.Second)), 0)
}
