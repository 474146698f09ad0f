package epoch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentEpochHourly(t *testing.T) {
	at := time.Unix(7200, 0)
	c := NewClockAt(DefaultDuration, func() time.Time { return at })
	assert.Equal(t, Epoch(2), c.CurrentEpoch())

	// last second of the bucket still maps to the same epoch
	at = time.Unix(10799, 0)
	assert.Equal(t, Epoch(2), c.CurrentEpoch())

	// first second of the next bucket rolls over
	at = time.Unix(10800, 0)
	assert.Equal(t, Epoch(3), c.CurrentEpoch())
}

func TestEpochMonotonic(t *testing.T) {
	c := NewClock(60 * time.Second)
	prev := Epoch(0)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 600; i += 7 {
		e := c.EpochAt(base.Add(time.Duration(i) * time.Second))
		assert.GreaterOrEqual(t, e, prev)
		prev = e
	}
}

func TestStartOfRoundTrips(t *testing.T) {
	c := NewClock(15 * time.Minute)
	e := c.EpochAt(time.Unix(1_700_000_123, 0))
	assert.Equal(t, e, c.EpochAt(c.StartOf(e)))
	assert.Equal(t, e-1, c.EpochAt(c.StartOf(e).Add(-time.Second)))
}

func TestZeroDurationFallsBack(t *testing.T) {
	c := NewClock(0)
	assert.Equal(t, DefaultDuration, c.Duration())
}
