package touch

import (
	"context"
	"fmt"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"paperpiper/internal/gesture"
	appLog "paperpiper/internal/log"
)

// Evdev reads a Linux multitouch input device.
type Evdev struct {
	dev *evdev.InputDevice
	dec decoder
}

// OpenEvdev opens a device by path (/dev/input/...) or by its reported
// name.
func OpenEvdev(device string) (*Evdev, error) {
	path := device
	if !strings.HasPrefix(device, "/") {
		paths, err := evdev.ListDevicePaths()
		if err != nil {
			return nil, fmt.Errorf("touch: list input devices: %w", err)
		}
		path = ""
		for _, p := range paths {
			if p.Name == device {
				path = p.Path
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("touch: no input device named %q", device)
		}
	}

	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("touch: open %s: %w", path, err)
	}
	name, _ := dev.Name()
	appLog.Info("touch device opened", "path", path, "name", name)
	return &Evdev{dev: dev}, nil
}

// Run implements Source.
func (e *Evdev) Run(ctx context.Context, sink Sink) error {
	go func() {
		<-ctx.Done()
		_ = e.dev.Close()
	}()

	for {
		ev, err := e.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("touch: read: %w", err)
		}
		if s, ok := e.dec.feed(ev.Type, ev.Code, ev.Value, time.Now()); ok {
			sink.Touch(s)
		}
	}
}

// Close implements Source.
func (e *Evdev) Close() error {
	return e.dev.Close()
}

// decoder folds evdev reports into tracker calls. A report (SYN_REPORT)
// with a contact presses or moves; the first report without one releases.
type decoder struct {
	t        Tracker
	x, y     int
	touching bool
}

func (d *decoder) feed(typ evdev.EvType, code evdev.EvCode, value int32, now time.Time) (gesture.Sample, bool) {
	switch typ {
	case evdev.EV_ABS:
		switch code {
		case evdev.ABS_MT_POSITION_X, evdev.ABS_X:
			d.x = int(value)
		case evdev.ABS_MT_POSITION_Y, evdev.ABS_Y:
			d.y = int(value)
		case evdev.ABS_MT_TRACKING_ID:
			d.touching = value >= 0
		}
	case evdev.EV_KEY:
		if code == evdev.BTN_TOUCH {
			d.touching = value != 0
		}
	case evdev.EV_SYN:
		if code != evdev.SYN_REPORT {
			break
		}
		if d.touching {
			d.t.Press(d.x, d.y, now)
		} else if d.t.Down() {
			return d.t.Release(now)
		}
	}
	return gesture.Sample{}, false
}
