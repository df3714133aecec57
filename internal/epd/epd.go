// Package epd drives e-paper panels. Frames arrive as 8-bit grayscale in
// native panel orientation; each panel reduces them to its own bit depth.
package epd

import (
	"fmt"
	"image"

	"paperpiper/internal/model"
)

// Panel is a display the renderer can push frames to.
type Panel interface {
	Show(frame *image.Gray, refresh model.Refresh) error
	Close() error
}

// Panel kinds accepted by Open.
const (
	KindMemory    = "memory"
	KindWaveshare = "waveshare2in13v4"
)

// Options configures Open.
type Options struct {
	Width  int
	Height int
	// DumpDir makes the memory panel write every frame to disk.
	DumpDir string
}

// Open returns the panel named by kind.
func Open(kind string, opts Options) (Panel, error) {
	switch kind {
	case "", KindMemory:
		return NewMemory(opts.Width, opts.Height, opts.DumpDir), nil
	case KindWaveshare:
		return OpenWaveshare()
	}
	return nil, fmt.Errorf("epd: unknown panel %q", kind)
}
