package link

import "time"

// Clock returns a millisecond counter that wraps around at 2^32.
type Clock func() uint32

// SystemClock counts milliseconds since its creation.
func SystemClock() Clock {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}

// Timer tracks the start of the receive or transmit in flight.
type Timer struct {
	start uint32
}

// Arm records now as the start of the operation.
func (t *Timer) Arm(now uint32) { t.start = now }

// Expired reports whether more than d has elapsed since Arm. The subtraction
// wraps, so a counter rollover between Arm and now is harmless.
func (t *Timer) Expired(now uint32, d time.Duration) bool {
	return now-t.start > uint32(d.Milliseconds())
}
