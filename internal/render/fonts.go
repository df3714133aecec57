package render

import (
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"paperpiper/internal/model"
)

const (
	// pointsPerStep is the face size for font size 1; size n is n times it.
	pointsPerStep = 7
	dpi           = 144
)

// Fonts holds one Go Regular face per font size. It implements
// paginate.Metrics. Faces are not safe for concurrent use; the renderer
// and the pagination engine both run on the display loop.
type Fonts struct {
	faces [model.MaxFontSize + 1]font.Face
}

// NewFonts parses the embedded Go Regular font and builds all faces.
func NewFonts() (*Fonts, error) {
	ttf, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("render: parse font: %w", err)
	}

	f := &Fonts{}
	for size := model.MinFontSize; size <= model.MaxFontSize; size++ {
		face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
			Size:    float64(pointsPerStep * size),
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("render: font size %d: %w", size, err)
		}
		f.faces[size] = face
	}
	return f, nil
}

// Face returns the face for a font size, clamped to the valid range.
func (f *Fonts) Face(size int) font.Face {
	return f.faces[model.ClampFontSize(size)]
}

// TextWidth returns the advance of s in pixels.
func (f *Fonts) TextWidth(s string, size int) int {
	return font.MeasureString(f.Face(size), s).Ceil()
}

// FontHeight returns ascent plus descent in pixels.
func (f *Fonts) FontHeight(size int) int {
	m := f.Face(size).Metrics()
	return m.Ascent.Ceil() + m.Descent.Ceil()
}

// Close releases the faces.
func (f *Fonts) Close() error {
	for _, face := range f.faces {
		if face != nil {
			_ = face.Close()
		}
	}
	return nil
}
