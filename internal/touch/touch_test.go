package touch

import (
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/gesture"
)

var t0 = time.Unix(1700000000, 0)

func TestTrackerClassifies(t *testing.T) {
	tests := []struct {
		name       string
		dx, dy     int
		held       time.Duration
		want       gesture.Sample
		recognized bool
	}{
		{"tap", 3, -2, 100 * time.Millisecond, gesture.Sample{X: 100, Y: 200, Click: true}, true},
		{"long press", 0, 0, 600 * time.Millisecond, gesture.Sample{}, false},
		{"flick left", -50, 5, 200 * time.Millisecond, gesture.Sample{X: 100, Y: 200, Flick: true, DX: -50, DY: 5}, true},
		{"flick at threshold", 0, 12, 700 * time.Millisecond, gesture.Sample{X: 100, Y: 200, Flick: true, DY: 12}, true},
		{"slow drag", 80, 0, 900 * time.Millisecond, gesture.Sample{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Tracker
			tr.Press(100, 200, t0)
			tr.Move(100+tt.dx/2, 200+tt.dy/2)
			tr.Move(100+tt.dx, 200+tt.dy)
			got, ok := tr.Release(t0.Add(tt.held))
			assert.Equal(t, tt.recognized, ok)
			assert.Equal(t, tt.want, got)
			assert.False(t, tr.Down())
		})
	}
}

func TestTrackerReleaseWithoutPress(t *testing.T) {
	var tr Tracker
	_, ok := tr.Release(t0)
	assert.False(t, ok)
}

func TestDecoderMultitouchReport(t *testing.T) {
	var d decoder
	feed := func(typ evdev.EvType, code evdev.EvCode, v int32, at time.Duration) (gesture.Sample, bool) {
		return d.feed(typ, code, v, t0.Add(at))
	}

	feed(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, 7, 0)
	feed(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, 300, 0)
	feed(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, 400, 0)
	_, ok := feed(evdev.EV_SYN, evdev.SYN_REPORT, 0, 0)
	assert.False(t, ok)
	assert.True(t, d.t.Down())

	feed(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, 330, 50*time.Millisecond)
	feed(evdev.EV_SYN, evdev.SYN_REPORT, 0, 50*time.Millisecond)

	feed(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, -1, 120*time.Millisecond)
	s, ok := feed(evdev.EV_SYN, evdev.SYN_REPORT, 0, 120*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, gesture.Sample{X: 300, Y: 400, Flick: true, DY: -70}, s)
}

func TestDecoderBtnTouch(t *testing.T) {
	var d decoder
	d.feed(evdev.EV_KEY, evdev.BTN_TOUCH, 1, t0)
	d.feed(evdev.EV_ABS, evdev.ABS_X, 10, t0)
	d.feed(evdev.EV_ABS, evdev.ABS_Y, 20, t0)
	d.feed(evdev.EV_SYN, evdev.SYN_REPORT, 0, t0)
	d.feed(evdev.EV_KEY, evdev.BTN_TOUCH, 0, t0)
	s, ok := d.feed(evdev.EV_SYN, evdev.SYN_REPORT, 0, t0.Add(50*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, gesture.Sample{X: 10, Y: 20, Click: true}, s)
}

// fakeGT answers status and point reads from a script.
type fakeGT struct {
	status []byte
	points [][]byte
	acks   int
}

func (f *fakeGT) Tx(w, r []byte) error {
	reg := uint16(w[0])<<8 | uint16(w[1])
	switch {
	case len(w) == 3:
		f.acks++
	case reg == gtStatusReg:
		r[0] = f.status[0]
		f.status = f.status[1:]
	case reg == gtPointReg:
		copy(r, f.points[0])
		f.points = f.points[1:]
	}
	return nil
}

type sinkFunc func(gesture.Sample)

func (f sinkFunc) Touch(s gesture.Sample) { f(s) }

func point(x, y int) []byte {
	return []byte{0, byte(x), byte(x >> 8), byte(y), byte(y >> 8), 0, 0, 0}
}

func TestGT1151Poll(t *testing.T) {
	fake := &fakeGT{
		status: []byte{0x81, 0x00, 0x81, 0x80},
		points: [][]byte{point(60, 120), point(62, 121)},
	}
	g := newGT1151(fake, GT1151Options{RangeW: 120, RangeH: 240, NativeW: 540, NativeH: 960})

	var got []gesture.Sample
	sink := sinkFunc(func(s gesture.Sample) { got = append(got, s) })

	require.NoError(t, g.step(t0, sink))                           // press
	require.NoError(t, g.step(t0.Add(20*time.Millisecond), sink))  // no fresh report
	require.NoError(t, g.step(t0.Add(40*time.Millisecond), sink))  // move
	require.NoError(t, g.step(t0.Add(100*time.Millisecond), sink)) // release

	require.Len(t, got, 1)
	assert.Equal(t, gesture.Sample{X: 270, Y: 480, Click: true}, got[0])
	assert.Equal(t, 3, fake.acks)
}
