package touch

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "paperpiper/internal/log"
)

// GT1151 registers.
const (
	gtStatusReg = 0x814E
	gtPointReg  = 0x814F
	gtAddr      = 0x14
)

// DefaultPollInterval is how often the GT1151 is read.
const DefaultPollInterval = 20 * time.Millisecond

type txer interface {
	Tx(w, r []byte) error
}

// GT1151Options configures the controller. When RangeW/RangeH are set,
// points are scaled from the controller range to NativeW/NativeH.
type GT1151Options struct {
	Bus    string
	Poll   time.Duration
	RangeW int
	RangeH int
	// Native panel size the points are scaled to.
	NativeW int
	NativeH int
}

// GT1151 polls a Goodix GT1151 touch controller over I2C.
type GT1151 struct {
	bus  i2c.BusCloser
	dev  txer
	opts GT1151Options
	t    Tracker
}

// OpenGT1151 opens the controller on the given bus ("" picks the first).
func OpenGT1151(opts GT1151Options) (*GT1151, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("touch: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(opts.Bus)
	if err != nil {
		return nil, fmt.Errorf("touch: open i2c bus %q: %w", opts.Bus, err)
	}
	g := newGT1151(&i2c.Dev{Bus: bus, Addr: gtAddr}, opts)
	g.bus = bus
	appLog.Info("gt1151 touch opened", "bus", bus.String())
	return g, nil
}

func newGT1151(dev txer, opts GT1151Options) *GT1151 {
	if opts.Poll <= 0 {
		opts.Poll = DefaultPollInterval
	}
	return &GT1151{dev: dev, opts: opts}
}

func (g *GT1151) read(reg uint16, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := g.dev.Tx([]byte{byte(reg >> 8), byte(reg)}, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (g *GT1151) ack() error {
	return g.dev.Tx([]byte{byte(gtStatusReg >> 8), byte(gtStatusReg & 0xFF), 0}, nil)
}

// poll reads the first contact. ready is false when the controller has no
// fresh report.
func (g *GT1151) poll() (x, y int, touching, ready bool, err error) {
	status, err := g.read(gtStatusReg, 1)
	if err != nil {
		return 0, 0, false, false, err
	}
	if status[0]&0x80 == 0 {
		return 0, 0, false, false, nil
	}
	defer func() { _ = g.ack() }()

	count := int(status[0] & 0x0F)
	if count == 0 {
		return 0, 0, false, true, nil
	}
	if count > 5 {
		return 0, 0, false, false, nil
	}
	data, err := g.read(gtPointReg, count*8)
	if err != nil {
		return 0, 0, false, false, err
	}
	x = int(data[1]) | int(data[2])<<8
	y = int(data[3]) | int(data[4])<<8
	x, y = g.scale(x, y)
	return x, y, true, true, nil
}

func (g *GT1151) scale(x, y int) (int, int) {
	o := g.opts
	if o.RangeW <= 0 || o.RangeH <= 0 || o.NativeW <= 0 || o.NativeH <= 0 {
		return x, y
	}
	return x * o.NativeW / o.RangeW, y * o.NativeH / o.RangeH
}

// step polls once and reports a finished sample.
func (g *GT1151) step(now time.Time, sink Sink) error {
	x, y, touching, ready, err := g.poll()
	if err != nil || !ready {
		return err
	}
	if touching {
		g.t.Press(x, y, now)
		return nil
	}
	if s, ok := g.t.Release(now); ok {
		sink.Touch(s)
	}
	return nil
}

// Run implements Source.
func (g *GT1151) Run(ctx context.Context, sink Sink) error {
	t := time.NewTicker(g.opts.Poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			if err := g.step(now, sink); err != nil {
				appLog.Debug("gt1151 poll failed", "err", err.Error())
			}
		}
	}
}

// Close implements Source.
func (g *GT1151) Close() error {
	if g.bus != nil {
		return g.bus.Close()
	}
	return nil
}
