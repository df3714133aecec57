// Package imu reads an MPU6886-compatible accelerometer over I2C.
package imu

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "paperpiper/internal/log"
	"paperpiper/internal/orient"
)

// DefaultAddr is the MPU6886 7-bit address with AD0 low.
const DefaultAddr = 0x68

// Registers used here.
const (
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regAccelXOutH   = 0x3B
	regPwrMgmt1     = 0x6B
	regWhoAmI       = 0x75
)

// At ±8 g one g reads as 4096.
const lsbPerG = 4096.0

type txer interface {
	Tx(w, r []byte) error
}

// MPU6886 implements orchestrator.Accelerometer.
type MPU6886 struct {
	bus i2c.BusCloser
	dev txer
	buf [6]byte
}

// Open initialises the sensor on the given bus ("" picks the first).
func Open(busName string, addr uint16) (*MPU6886, error) {
	if addr == 0 {
		addr = DefaultAddr
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("imu: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("imu: open i2c bus %q: %w", busName, err)
	}

	m := &MPU6886{bus: bus, dev: &i2c.Dev{Bus: bus, Addr: addr}}
	if err := m.init(); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return m, nil
}

func (m *MPU6886) write(reg, v byte) error {
	return m.dev.Tx([]byte{reg, v}, nil)
}

func (m *MPU6886) init() error {
	who := []byte{0}
	if err := m.dev.Tx([]byte{regWhoAmI}, who); err != nil {
		return fmt.Errorf("imu: who_am_i: %w", err)
	}
	appLog.Info("imu detected", "who_am_i", fmt.Sprintf("0x%02x", who[0]))

	steps := []struct{ reg, val byte }{
		{regPwrMgmt1, 0x00},
		{regPwrMgmt1, 0x01},
		{regAccelConfig, 0x10}, // ±8 g
		{regAccelConfig2, 0x00},
	}
	for _, s := range steps {
		if err := m.write(s.reg, s.val); err != nil {
			return fmt.Errorf("imu: write 0x%02x: %w", s.reg, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Read returns one acceleration sample in g.
func (m *MPU6886) Read() (orient.Sample, error) {
	if err := m.dev.Tx([]byte{regAccelXOutH}, m.buf[:]); err != nil {
		return orient.Sample{}, fmt.Errorf("imu: read accel: %w", err)
	}
	return decode(m.buf[:]), nil
}

func decode(b []byte) orient.Sample {
	axis := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(b[i:]))) / lsbPerG
	}
	return orient.Sample{AX: axis(0), AY: axis(2), AZ: axis(4)}
}

// Close releases the bus.
func (m *MPU6886) Close() error {
	if m.bus != nil {
		return m.bus.Close()
	}
	return nil
}
