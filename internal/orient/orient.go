// Package orient derives the panel rotation from gravity and maps
// coordinates between the native panel and the rotated viewport.
package orient

import "paperpiper/internal/activity"

// Sample is one accelerometer reading in g.
type Sample struct {
	AX, AY, AZ float64
}

// Threshold is the minimum gravity component that selects an axis.
const Threshold = 0.5

// Classify maps the dominant gravity axis to a rotation. Axes are checked
// in the order +Y, -Y, +X, -X; ok is false when none passes the threshold.
func Classify(s Sample) (rotation int, ok bool) {
	switch {
	case s.AY > Threshold:
		return 1, true
	case s.AY < -Threshold:
		return 3, true
	case s.AX > Threshold:
		return 0, true
	case s.AX < -Threshold:
		return 2, true
	}
	return 0, false
}

// axisHolds reports whether the axis that selects rotation still passes
// the threshold, regardless of the other axes.
func axisHolds(s Sample, rotation int) bool {
	switch rotation {
	case 1:
		return s.AY > Threshold
	case 3:
		return s.AY < -Threshold
	case 0:
		return s.AX > Threshold
	case 2:
		return s.AX < -Threshold
	}
	return false
}

// Default timings.
const (
	DefaultSettle   activity.Millis = 100
	DefaultCooldown activity.Millis = 300
)

// Stabilizer confirms rotation changes. A new candidate is parked and
// re-checked on the first sample at least Settle later; the change applies
// only if the candidate's axis still passes the threshold. After a change no samples are considered for
// Cooldown.
type Stabilizer struct {
	Settle   activity.Millis
	Cooldown activity.Millis

	confirmed   int
	candidate   int
	pending     bool
	candidateAt activity.Millis
	cooling     bool
	changedAt   activity.Millis
}

// NewStabilizer starts at the given confirmed rotation.
func NewStabilizer(initial int) *Stabilizer {
	return &Stabilizer{
		Settle:    DefaultSettle,
		Cooldown:  DefaultCooldown,
		confirmed: initial & 3,
	}
}

// Rotation returns the confirmed rotation.
func (s *Stabilizer) Rotation() int { return s.confirmed }

// Pending reports whether a candidate is waiting for its re-check.
func (s *Stabilizer) Pending() bool { return s.pending }

// Observe feeds one sample taken at now. It returns the confirmed rotation
// and whether this sample changed it.
func (s *Stabilizer) Observe(sample Sample, now activity.Millis) (int, bool) {
	if s.cooling {
		if activity.Since(now, s.changedAt) < s.Cooldown {
			return s.confirmed, false
		}
		s.cooling = false
	}

	if s.pending {
		if activity.Since(now, s.candidateAt) < s.Settle {
			return s.confirmed, false
		}
		s.pending = false
		if !axisHolds(sample, s.candidate) {
			return s.confirmed, false
		}
		s.confirmed = s.candidate
		s.cooling = true
		s.changedAt = now
		return s.confirmed, true
	}

	rot, ok := Classify(sample)
	if !ok || rot == s.confirmed {
		return s.confirmed, false
	}
	s.candidate = rot
	s.candidateAt = now
	s.pending = true
	return s.confirmed, false
}

// Native panel coordinates (rotation 0) are nw x nh. For odd rotations the
// viewport is nh x nw.

// ToViewport maps a native point into the rotated viewport.
func ToViewport(x, y, rotation, nw, nh int) (int, int) {
	switch rotation & 3 {
	case 1:
		return y, nw - 1 - x
	case 2:
		return nw - 1 - x, nh - 1 - y
	case 3:
		return nh - 1 - y, x
	}
	return x, y
}

// ToNative is the inverse of ToViewport.
func ToNative(x, y, rotation, nw, nh int) (int, int) {
	switch rotation & 3 {
	case 1:
		return nw - 1 - y, x
	case 2:
		return nw - 1 - x, nh - 1 - y
	case 3:
		return y, nh - 1 - x
	}
	return x, y
}

// DeltaToViewport rotates a native movement vector into the viewport.
func DeltaToViewport(dx, dy, rotation int) (int, int) {
	switch rotation & 3 {
	case 1:
		return dy, -dx
	case 2:
		return -dx, -dy
	case 3:
		return -dy, dx
	}
	return dx, dy
}
