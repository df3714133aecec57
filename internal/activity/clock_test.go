package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredBoundaries(t *testing.T) {
	c := NewClock(1000, DefaultTimeout)

	assert.False(t, c.Expired(1000+179999))
	assert.False(t, c.Expired(1000+180000))
	assert.True(t, c.Expired(1000+180001))
}

func TestExpiredAcrossWrap(t *testing.T) {
	start := ^Millis(0) - 50 // 50ms before the counter wraps
	c := NewClock(start, DefaultTimeout)

	assert.False(t, c.Expired(start+100), "100ms after, across the wrap")
	assert.True(t, c.Expired(start+180001))
}

func TestTouchResets(t *testing.T) {
	c := NewClock(0, 0)
	c.Touch(170000)
	assert.False(t, c.Expired(200000))
	assert.Equal(t, Millis(170000), c.Last())
}

func TestMillisFrom(t *testing.T) {
	assert.Equal(t, Millis(500), MillisFrom(500*time.Millisecond))
	assert.Equal(t, Millis(0), MillisFrom(-time.Second))
	assert.Equal(t, ^Millis(0), MillisFrom(100*24*time.Hour))
}
