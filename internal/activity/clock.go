// Package activity tracks the time of the last recognized input and decides
// when the idle timeout has expired.
package activity

import "time"

// Millis is a wrapping millisecond counter, like a firmware tick. All
// comparisons use unsigned subtraction so a wrap at 2^32 is harmless.
type Millis uint32

// Since returns now - then with wraparound.
func Since(now, then Millis) Millis {
	return now - then
}

// DefaultTimeout is the idle period before the device powers down.
const DefaultTimeout Millis = 180000

// Clock remembers the last activity timestamp.
type Clock struct {
	last    Millis
	timeout Millis
}

// NewClock starts a clock whose last activity is now.
func NewClock(now Millis, timeout Millis) *Clock {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Clock{last: now, timeout: timeout}
}

// Touch records activity at now.
func (c *Clock) Touch(now Millis) {
	c.last = now
}

// Last returns the last activity timestamp.
func (c *Clock) Last() Millis {
	return c.last
}

// Expired reports whether strictly more than the timeout elapsed since the
// last activity.
func (c *Clock) Expired(now Millis) bool {
	return Since(now, c.last) > c.timeout
}

// MillisFrom converts a duration to Millis, saturating at the max value.
func MillisFrom(d time.Duration) Millis {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^Millis(0)) {
		return ^Millis(0)
	}
	return Millis(ms)
}

// Source produces Millis from a monotonic start time.
type Source struct {
	start time.Time
}

// NewSource anchors the counter at the current instant.
func NewSource() Source {
	return Source{start: time.Now()}
}

// Now returns the milliseconds since start, truncated to 32 bits.
func (s Source) Now() Millis {
	return Millis(uint64(time.Since(s.start).Milliseconds()))
}
