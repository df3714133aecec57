package imagegeom

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/model"
)

// header builds SOI + APP0 + SOF(marker) for w x h.
func header(marker byte, w, h int) []byte {
	b := []byte{0xFF, 0xD8}
	// APP0 with a 16-byte length (14 bytes of payload).
	b = append(b, 0xFF, 0xE0, 0x00, 0x10)
	b = append(b, make([]byte, 14)...)
	b = append(b, 0xFF, marker, 0x00, 0x11, 0x08,
		byte(h>>8), byte(h), byte(w>>8), byte(w), 0x03)
	return b
}

func TestParseSize(t *testing.T) {
	w, h, ok := ParseSize(header(0xC0, 640, 480))
	require.True(t, ok)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	w, h, ok = ParseSize(header(0xC2, 1920, 1080))
	require.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestParseSizeRealJPEG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 37, 23))
	img.SetGray(3, 3, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	w, h, ok := ParseSize(buf.Bytes())
	require.True(t, ok)
	assert.Equal(t, 37, w)
	assert.Equal(t, 23, h)
}

func TestParseSizeUnknown(t *testing.T) {
	good := header(0xC0, 10, 10)
	tests := map[string][]byte{
		"empty":       nil,
		"png":         []byte("\x89PNG\r\n\x1a\n0000"),
		"bad marker":  {0xFF, 0xD8, 0x00, 0xE0, 0x00, 0x10},
		"no sof":      {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x02, 0xFF, 0xD9, 0x00, 0x02},
		"truncated":   good[:len(good)-4],
		"zero length": {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x00, 0xFF, 0xC0},
		"zero width":  header(0xC0, 0, 10),
	}
	for name, data := range tests {
		_, _, ok := ParseSize(data)
		assert.False(t, ok, name)
	}
}

func TestCoverScale(t *testing.T) {
	assert.InDelta(t, 2.0, CoverScale(960, 540, 480, 270), 1e-9)
	assert.InDelta(t, 2.0, CoverScale(960, 540, 480, 480), 1e-9)
	assert.InDelta(t, 1.0, CoverScale(540, 960, 1080, 960), 1e-9)
	assert.Zero(t, CoverScale(960, 540, 0, 10))
}

func TestResolveOnce(t *testing.T) {
	a := &model.ImageAsset{Data: header(0xC0, 300, 200)}
	Resolve(a)
	assert.True(t, a.Resolved)
	assert.True(t, a.Known)
	assert.Equal(t, 300, a.Width)

	a.Data = nil
	Resolve(a)
	assert.Equal(t, 300, a.Width, "cached geometry is kept")
}

func TestUploadTruncatesAtCeiling(t *testing.T) {
	u := NewUpload(0)
	u.Begin(model.ContentMap)

	src := bytes.Repeat([]byte{0xAB}, DefaultMaxUpload+12345)
	n, err := io.CopyBuffer(u, bytes.NewReader(src), make([]byte, 32<<10))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)

	a := u.End()
	assert.Len(t, a.Data, DefaultMaxUpload)
	assert.Equal(t, 12345, u.Dropped())
	assert.Equal(t, model.ContentMap, a.Kind)
}

func TestUploadBeginDiscardsPartial(t *testing.T) {
	u := NewUpload(16)
	u.Begin(model.ContentPlain)
	_, _ = u.Write([]byte("stale"))

	u.Begin(model.ContentPlain)
	_, _ = u.Write([]byte("fresh"))
	a := u.End()
	assert.Equal(t, []byte("fresh"), a.Data)

	_, err := u.Write([]byte("x"))
	assert.Error(t, err)
}

func TestSurfaceReuseAndBudget(t *testing.T) {
	s := NewSurface(960 * 540 * 4)

	a, err := s.Ensure(960, 540)
	require.NoError(t, err)
	b, err := s.Ensure(960, 540)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = s.Ensure(1920, 1080)
	assert.ErrorIs(t, err, ErrSurfaceTooLarge)

	c, err := s.Ensure(100, 100)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}
