package epd

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"

	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
)

// Waveshare drives a Waveshare 2.13" v4 HAT on the default SPI port. The
// frame is scaled down to the HAT resolution.
type Waveshare struct {
	port   spi.PortCloser
	dev    *waveshare2in13v4.Dev
	scaled *image.Gray
	bits   *image1bit.VerticalLSB
}

// OpenWaveshare initialises the host, the SPI port and the HAT, and clears
// the panel.
func OpenWaveshare() (*Waveshare, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}
	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}

	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(port, &opts)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: hat: %w", err)
	}
	if err := dev.Init(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: init: %w", err)
	}
	if err := dev.Clear(color.White); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: clear: %w", err)
	}

	b := dev.Bounds()
	appLog.Info("waveshare panel ready", "bounds", b.String())
	return &Waveshare{
		port:   port,
		dev:    dev,
		scaled: image.NewGray(b),
		bits:   image1bit.NewVerticalLSB(b),
	}, nil
}

// Show implements Panel. A quality refresh clears to white first.
func (w *Waveshare) Show(frame *image.Gray, refresh model.Refresh) error {
	b := w.dev.Bounds()
	draw.ApproxBiLinear.Scale(w.scaled, b, frame, frame.Bounds(), draw.Src, nil)
	draw.Draw(w.bits, b, w.scaled, b.Min, draw.Src)

	if refresh == model.RefreshQuality {
		if err := w.dev.Clear(color.White); err != nil {
			return fmt.Errorf("epd: clear: %w", err)
		}
	}
	if err := w.dev.Draw(b, w.bits, b.Min); err != nil {
		return fmt.Errorf("epd: draw: %w", err)
	}
	return nil
}

// Close puts the panel to sleep and releases the port.
func (w *Waveshare) Close() error {
	if err := w.dev.Sleep(); err != nil {
		appLog.Warn("panel sleep failed", "err", err.Error())
	}
	_ = w.dev.Halt()
	return w.port.Close()
}
