package orient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/activity"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		s   Sample
		rot int
		ok  bool
	}{
		{Sample{AY: 0.8}, 1, true},
		{Sample{AY: -0.8}, 3, true},
		{Sample{AX: 0.8}, 0, true},
		{Sample{AX: -0.8}, 2, true},
		{Sample{AX: 0.9, AY: 0.6}, 1, true},
		{Sample{AX: 0.5, AY: 0.5, AZ: 1}, 0, false},
		{Sample{AZ: 1}, 0, false},
	}
	for _, tt := range tests {
		rot, ok := Classify(tt.s)
		assert.Equal(t, tt.ok, ok, "%+v", tt.s)
		if tt.ok {
			assert.Equal(t, tt.rot, rot, "%+v", tt.s)
		}
	}
}

func TestSustainedSameAxisIsNoop(t *testing.T) {
	s := NewStabilizer(1)
	for now := 0; now < 2000; now += 10 {
		rot, changed := s.Observe(Sample{AY: 0.8}, activity.Millis(now))
		require.False(t, changed)
		require.Equal(t, 1, rot)
	}
	assert.False(t, s.Pending())
}

func TestChangeNeedsReconfirmation(t *testing.T) {
	s := NewStabilizer(1)
	_, changed := s.Observe(Sample{AY: 0.8}, 1000)
	assert.False(t, changed)

	rot, changed := s.Observe(Sample{AX: 0.8}, 1010)
	assert.False(t, changed, "first sample only parks the candidate")
	assert.Equal(t, 1, rot)
	assert.True(t, s.Pending())

	rot, changed = s.Observe(Sample{AX: 0.8}, 1050)
	assert.False(t, changed, "settle delay not elapsed")
	assert.Equal(t, 1, rot)

	rot, changed = s.Observe(Sample{AX: 0.8}, 1110)
	assert.True(t, changed)
	assert.Equal(t, 0, rot)
}

func TestTransientTiltDropped(t *testing.T) {
	s := NewStabilizer(1)
	s.Observe(Sample{AX: -0.9}, 0)
	require.True(t, s.Pending())

	rot, changed := s.Observe(Sample{AY: 0.9}, 100)
	assert.False(t, changed)
	assert.Equal(t, 1, rot)
	assert.False(t, s.Pending())
}

func TestRecheckLooksAtCandidateAxisOnly(t *testing.T) {
	s := NewStabilizer(1)
	s.Observe(Sample{AX: 0.9}, 0)
	require.True(t, s.Pending())

	// Y would win Classify here, but X still holds.
	rot, changed := s.Observe(Sample{AX: 0.8, AY: 0.6}, 100)
	assert.True(t, changed)
	assert.Equal(t, 0, rot)
}

func TestAxisHolds(t *testing.T) {
	assert.True(t, axisHolds(Sample{AY: 0.6}, 1))
	assert.True(t, axisHolds(Sample{AY: -0.6, AX: 0.9}, 3))
	assert.True(t, axisHolds(Sample{AX: -0.51}, 2))
	assert.False(t, axisHolds(Sample{AX: 0.5}, 0))
	assert.False(t, axisHolds(Sample{AY: 0.9}, 2))
}

func TestCooldown(t *testing.T) {
	s := NewStabilizer(1)
	s.Observe(Sample{AX: 0.8}, 0)
	_, changed := s.Observe(Sample{AX: 0.8}, 100)
	require.True(t, changed)

	// Within 300ms nothing is even parked.
	s.Observe(Sample{AY: -0.8}, 200)
	assert.False(t, s.Pending())
	s.Observe(Sample{AY: -0.8}, 399)
	assert.False(t, s.Pending())

	s.Observe(Sample{AY: -0.8}, 400)
	assert.True(t, s.Pending())
	rot, changed := s.Observe(Sample{AY: -0.8}, 500)
	assert.True(t, changed)
	assert.Equal(t, 3, rot)
}

func TestMappingRoundTrip(t *testing.T) {
	const nw, nh = 540, 960
	points := [][2]int{{0, 0}, {nw - 1, 0}, {0, nh - 1}, {nw - 1, nh - 1}, {123, 456}}
	for rot := 0; rot < 4; rot++ {
		vw, vh := nw, nh
		if rot%2 == 1 {
			vw, vh = nh, nw
		}
		for _, p := range points {
			vx, vy := ToViewport(p[0], p[1], rot, nw, nh)
			assert.True(t, vx >= 0 && vx < vw && vy >= 0 && vy < vh, "rot %d %v -> %d,%d", rot, p, vx, vy)
			x, y := ToNative(vx, vy, rot, nw, nh)
			assert.Equal(t, p, [2]int{x, y}, "rot %d", rot)
		}
	}
}

func TestDeltaMatchesPointMapping(t *testing.T) {
	const nw, nh = 540, 960
	for rot := 0; rot < 4; rot++ {
		x0, y0 := ToViewport(100, 200, rot, nw, nh)
		x1, y1 := ToViewport(130, 180, rot, nw, nh)
		dx, dy := DeltaToViewport(30, -20, rot)
		assert.Equal(t, x1-x0, dx, "rot %d", rot)
		assert.Equal(t, y1-y0, dy, "rot %d", rot)
	}
}
