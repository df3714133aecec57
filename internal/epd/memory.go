package epd

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
)

// Memory is a headless panel. It keeps the last frame and can dump each
// frame as preview.png plus the packed frame.bin.
type Memory struct {
	mu      sync.Mutex
	width   int
	height  int
	dumpDir string
	last    *image.Gray
	shows   int
	refresh model.Refresh
}

// NewMemory returns a memory panel of the given native size.
func NewMemory(width, height int, dumpDir string) *Memory {
	if width <= 0 || height <= 0 {
		width, height = 540, 960
	}
	return &Memory{width: width, height: height, dumpDir: dumpDir}
}

// Show implements Panel.
func (m *Memory) Show(frame *image.Gray, refresh model.Refresh) error {
	if frame.Bounds().Dx() != m.width || frame.Bounds().Dy() != m.height {
		return fmt.Errorf("epd: frame %v does not match %dx%d panel", frame.Bounds(), m.width, m.height)
	}

	m.mu.Lock()
	if m.last == nil {
		m.last = image.NewGray(image.Rect(0, 0, m.width, m.height))
	}
	for y := 0; y < m.height; y++ {
		copy(m.last.Pix[y*m.last.Stride:y*m.last.Stride+m.width], frame.Pix[y*frame.Stride:])
	}
	m.shows++
	m.refresh = refresh
	m.mu.Unlock()

	if m.dumpDir == "" {
		return nil
	}
	if err := m.dump(frame); err != nil {
		appLog.Warn("panel dump failed", "dir", m.dumpDir, "err", err.Error())
	}
	return nil
}

// Last returns a copy of the last frame shown, or nil.
func (m *Memory) Last() *image.Gray {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	out := image.NewGray(m.last.Bounds())
	copy(out.Pix, m.last.Pix)
	return out
}

// Shows returns how many frames were shown and the last refresh mode.
func (m *Memory) Shows() (int, model.Refresh) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shows, m.refresh
}

// Close implements Panel.
func (m *Memory) Close() error { return nil }

func (m *Memory) dump(frame *image.Gray) error {
	if err := os.MkdirAll(m.dumpDir, 0o755); err != nil {
		return err
	}

	err := writeAtomic(filepath.Join(m.dumpDir, "preview.png"), func(f *os.File) error {
		return png.Encode(f, frame)
	})
	if err != nil {
		return err
	}

	plane, stride, err := PackGray(frame, DefaultThreshold)
	if err != nil {
		return err
	}
	err = writeAtomic(filepath.Join(m.dumpDir, "frame.bin"), func(f *os.File) error {
		_, err := f.Write(plane)
		return err
	})
	if err != nil {
		return err
	}
	appLog.Debug("panel frame dumped", "dir", m.dumpDir, "stride", stride, "bytes", len(plane))
	return nil
}

// writeAtomic writes through a temp file in the same directory and
// renames it into place.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
