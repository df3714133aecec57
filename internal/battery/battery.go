package battery

import (
	"context"
	"errors"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrNoGauge is returned by the reader used when no gauge answered at
// startup. The header then shows no battery icon.
var ErrNoGauge = errors.New("battery: no gauge")

// Status is one gauge reading.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader obtains one Status.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// DefaultAddr is the 7-bit address of the PiSugar3 gauge on the HAT.
const DefaultAddr = 0x57

// Gauge registers.
const (
	regVoltageHigh byte = 0x22
	regVoltageLow  byte = 0x23
	regPercent     byte = 0x2A
)

// Single-cell LiPo range used when the gauge has no percentage yet.
const (
	emptyMv = 3300
	fullMv  = 4150
)

// levelFromMillivolts maps a cell voltage linearly onto 0..100.
func levelFromMillivolts(mv int) int {
	if mv <= emptyMv {
		return 0
	}
	if mv >= fullMv {
		return 100
	}
	return (mv - emptyMv) * 100 / (fullMv - emptyMv)
}

type txer interface {
	Tx(w, r []byte) error
}

// decode reads the gauge registers. A percentage register outside 0..100
// means the gauge has not calibrated yet; the level is then taken from the
// voltage.
func decode(dev txer) (Status, error) {
	var regs [3]byte
	for i, reg := range []byte{regVoltageHigh, regVoltageLow, regPercent} {
		buf := regs[i : i+1]
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return Status{}, err
		}
	}
	st := Status{VoltageMv: int(regs[0])<<8 | int(regs[1])}
	if regs[2] <= 100 {
		st.Percent = int(regs[2])
	} else {
		st.Percent = levelFromMillivolts(st.VoltageMv)
	}
	return st, nil
}

type i2cReader struct {
	bus  string
	addr uint16
}

// NewI2CReader reads the gauge at addr on bus ("" for the first bus). The
// bus is opened for each read so a HAT attached later is picked up.
func NewI2CReader(bus string, addr uint16) Reader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &i2cReader{bus: bus, addr: addr}
}

func (r *i2cReader) Read(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}
	bus, err := i2creg.Open(r.bus)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()
	return decode(&i2c.Dev{Bus: bus, Addr: r.addr})
}

type absentReader struct{}

func (absentReader) Read(context.Context) (Status, error) { return Status{}, ErrNoGauge }

// DefaultReader tries the gauge once and falls back to a reader that
// always fails with ErrNoGauge.
func DefaultReader(bus string, addr uint16) Reader {
	if runtime.GOOS != "linux" {
		return absentReader{}
	}
	r := NewI2CReader(bus, addr)
	if _, err := r.Read(context.Background()); err != nil {
		return absentReader{}
	}
	return r
}
