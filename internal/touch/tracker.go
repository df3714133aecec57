// Package touch turns raw touch controller reports into click and flick
// samples in native panel coordinates.
package touch

import (
	"context"
	"time"

	"paperpiper/internal/gesture"
)

// Thresholds separating clicks from flicks.
const (
	MoveThreshold = 12
	ClickMaxHold  = 500 * time.Millisecond
	FlickMaxHold  = 800 * time.Millisecond
)

// Sink receives completed samples. orchestrator.Queue implements it.
type Sink interface {
	Touch(s gesture.Sample)
}

// Source reads a touch controller until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
	Close() error
}

// Tracker follows one contact from press to release.
type Tracker struct {
	down           bool
	startX, startY int
	lastX, lastY   int
	startAt        time.Time
}

// Down reports whether a contact is in progress.
func (t *Tracker) Down() bool { return t.down }

// Press starts a contact. A press while already down is a move.
func (t *Tracker) Press(x, y int, at time.Time) {
	if t.down {
		t.Move(x, y)
		return
	}
	t.down = true
	t.startX, t.startY = x, y
	t.lastX, t.lastY = x, y
	t.startAt = at
}

// Move updates the contact position.
func (t *Tracker) Move(x, y int) {
	if t.down {
		t.lastX, t.lastY = x, y
	}
}

// Release ends the contact. It reports a click or flick sample, or false
// when the contact was held too long for either.
func (t *Tracker) Release(at time.Time) (gesture.Sample, bool) {
	if !t.down {
		return gesture.Sample{}, false
	}
	t.down = false

	dx, dy := t.lastX-t.startX, t.lastY-t.startY
	held := at.Sub(t.startAt)
	moved := abs(dx) >= MoveThreshold || abs(dy) >= MoveThreshold

	switch {
	case !moved && held < ClickMaxHold:
		return gesture.Sample{X: t.startX, Y: t.startY, Click: true}, true
	case moved && held < FlickMaxHold:
		return gesture.Sample{X: t.startX, Y: t.startY, Flick: true, DX: dx, DY: dy}, true
	}
	return gesture.Sample{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
