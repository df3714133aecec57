package orchestrator

import (
	"context"
	"time"

	"paperpiper/internal/activity"
	appLog "paperpiper/internal/log"
)

// DefaultTickInterval is the idle period of the loop.
const DefaultTickInterval = 10 * time.Millisecond

// Loop runs an Orchestrator against a Queue.
type Loop struct {
	O     *Orchestrator
	Q     *Queue
	Accel Accelerometer
	// Now defaults to a monotonic source started by Run.
	Now  func() activity.Millis
	Tick time.Duration
}

// Run draws the welcome screen and then processes events in order until
// ctx is cancelled or the device powers off. It returns ctx.Err() or
// ErrPoweredOff. Producers blocked on the queue are released on return.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.Q.done)

	now := l.Now
	if now == nil {
		now = activity.NewSource().Now
	}
	tick := l.Tick
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	l.O.Touch(now())
	l.O.ShowWelcome(now())
	appLog.Info("display loop started", "tick", tick.String())

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.O.Shutdown()
			appLog.Info("display loop stopped")
			return ctx.Err()

		case ev := <-l.Q.ch:
			ev.apply(l.O, now())

		case <-ticker.C:
			if l.Accel != nil {
				if s, err := l.Accel.Read(); err != nil {
					appLog.Debug("accelerometer read failed", "err", err.Error())
				} else {
					l.O.OnAccelSample(s, now())
				}
			}
			if err := l.O.OnTick(now()); err != nil {
				appLog.Info("display loop stopped", "reason", err.Error())
				return err
			}
		}
	}
}
