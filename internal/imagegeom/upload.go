package imagegeom

import (
	"errors"
	"fmt"
	"image"

	"paperpiper/internal/model"
)

// DefaultMaxUpload is the upload ceiling in bytes.
const DefaultMaxUpload = 4 << 20

// Upload assembles an image from chunks. Bytes past the ceiling are dropped
// without error; what was buffered before stays.
type Upload struct {
	max     int
	kind    model.ContentKind
	buf     []byte
	dropped int
	open    bool
}

// NewUpload returns an idle upload with the given ceiling (0 means default).
func NewUpload(limit int) *Upload {
	if limit <= 0 {
		limit = DefaultMaxUpload
	}
	return &Upload{max: limit}
}

// Begin discards any partial upload and starts a new one.
func (u *Upload) Begin(kind model.ContentKind) {
	u.kind = kind
	u.buf = u.buf[:0]
	u.dropped = 0
	u.open = true
}

// Write appends a chunk. It always reports the full chunk as written so
// io.Copy keeps draining the request body.
func (u *Upload) Write(p []byte) (int, error) {
	if !u.open {
		return 0, errors.New("imagegeom: write without begin")
	}
	room := u.max - len(u.buf)
	if room < 0 {
		room = 0
	}
	if len(p) > room {
		u.dropped += len(p) - room
		u.buf = append(u.buf, p[:room]...)
	} else {
		u.buf = append(u.buf, p...)
	}
	return len(p), nil
}

// Dropped returns how many bytes were discarded over the ceiling.
func (u *Upload) Dropped() int {
	return u.dropped
}

// End closes the upload and returns the assembled asset. The asset owns
// its bytes; the Upload can be reused.
func (u *Upload) End() model.ImageAsset {
	u.open = false
	data := make([]byte, len(u.buf))
	copy(data, u.buf)
	u.buf = u.buf[:0]
	return model.ImageAsset{Data: data, Kind: u.kind}
}

// DefaultSurfaceBudget caps the decode surface allocation.
const DefaultSurfaceBudget = 32 << 20

// ErrSurfaceTooLarge is returned when a surface would exceed the budget.
// Callers fall back to drawing the image unscaled.
var ErrSurfaceTooLarge = errors.New("imagegeom: decode surface exceeds budget")

// Surface caches one RGBA decode buffer. It is reallocated only when the
// requested size differs from the cached one.
type Surface struct {
	budget int
	img    *image.RGBA
}

// NewSurface returns an empty cache with the given byte budget (0 means
// default).
func NewSurface(budget int) *Surface {
	if budget <= 0 {
		budget = DefaultSurfaceBudget
	}
	return &Surface{budget: budget}
}

// Ensure returns a w x h surface, reusing the cached one when the size
// still matches. The cached surface is not cleared.
func (s *Surface) Ensure(w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("imagegeom: invalid surface size %dx%d", w, h)
	}
	if s.img != nil {
		if b := s.img.Bounds(); b.Dx() == w && b.Dy() == h {
			return s.img, nil
		}
	}
	if int64(w)*int64(h)*4 > int64(s.budget) {
		s.img = nil
		return nil, fmt.Errorf("%w: %dx%d", ErrSurfaceTooLarge, w, h)
	}
	s.img = image.NewRGBA(image.Rect(0, 0, w, h))
	return s.img, nil
}

// Release drops the cached surface.
func (s *Surface) Release() {
	s.img = nil
}
