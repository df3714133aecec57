// Package render draws scenes onto an 8-bit grayscale frame in viewport
// orientation, rotates the frame onto the native panel and hands it over.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"

	"paperpiper/internal/imagegeom"
	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
	"paperpiper/internal/orient"
	"paperpiper/internal/paginate"
)

// Panel shows a frame in native panel orientation.
type Panel interface {
	Show(frame *image.Gray, refresh model.Refresh) error
}

// HeaderInfo supplies the live values shown in the header.
type HeaderInfo interface {
	Address() string
	BatteryPercent() (int, bool)
}

// Options configures a Renderer.
type Options struct {
	NativeWidth  int
	NativeHeight int
	// SurfaceBudget caps the scaled image buffer in bytes.
	SurfaceBudget int
}

// Renderer implements the orchestrator's Renderer and Snapshotter.
type Renderer struct {
	panel Panel
	fonts *Fonts
	info  HeaderInfo

	nativeW, nativeH int
	surface          *imagegeom.Surface

	canvas *image.RGBA
	view   *image.Gray
	native *image.Gray
}

// New returns a renderer drawing with fonts onto panel. info may be nil.
func New(panel Panel, fonts *Fonts, info HeaderInfo, opts Options) *Renderer {
	if opts.NativeWidth <= 0 || opts.NativeHeight <= 0 {
		opts.NativeWidth, opts.NativeHeight = 540, 960
	}
	return &Renderer{
		panel:   panel,
		fonts:   fonts,
		info:    info,
		nativeW: opts.NativeWidth,
		nativeH: opts.NativeHeight,
		surface: imagegeom.NewSurface(opts.SurfaceBudget),
		native:  image.NewGray(image.Rect(0, 0, opts.NativeWidth, opts.NativeHeight)),
	}
}

// Render draws sc and pushes it to the panel.
func (r *Renderer) Render(sc model.Scene) error {
	v := sc.Viewport
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("render: empty viewport %dx%d", v.Width, v.Height)
	}
	vw, vh := v.Width, v.Height
	if sc.Rotation%2 == 1 {
		vw, vh = vh, vw
	}
	if vw != r.nativeW || vh != r.nativeH {
		return fmt.Errorf("render: viewport %dx%d does not fit a %dx%d panel at rotation %d",
			v.Width, v.Height, r.nativeW, r.nativeH, sc.Rotation)
	}

	resized := r.canvas == nil || r.canvas.Bounds().Dx() != v.Width || r.canvas.Bounds().Dy() != v.Height
	if resized {
		r.canvas = image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
		r.view = image.NewGray(r.canvas.Bounds())
	}
	c := r.canvas

	// A fast stream update keeps the header of the previous frame and only
	// repaints the text area.
	partial := sc.Kind == model.SceneStream && sc.Refresh == model.RefreshFast && !sc.ClearAll && !resized
	if partial {
		fillRect(c, image.Rect(0, streamTop(sc), v.Width, v.Height), color.White)
	} else {
		fillRect(c, c.Bounds(), color.White)
	}

	switch sc.Kind {
	case model.SceneWelcome:
		r.drawWelcome(c, sc)
	case model.SceneText:
		r.drawPage(c, sc)
	case model.SceneImage:
		r.drawImage(c, sc)
	case model.SceneStream:
		r.drawStream(c, sc)
	}

	if sc.Chrome && sc.Kind != model.SceneWelcome && !partial {
		r.drawHeader(c, v, sc.Header)
		if sc.Kind == model.SceneText {
			r.drawFooter(c, v, sc.PageIndex, sc.PageCount)
		}
	}
	if sc.Sleeping && sc.Kind != model.SceneWelcome {
		r.drawSleepBand(c, v)
	}

	draw.Draw(r.view, r.view.Bounds(), c, image.Point{}, draw.Src)
	rotateInto(r.native, r.view, sc.Rotation)
	return r.panel.Show(r.native, sc.Refresh)
}

// Snapshot returns a copy of the last frame in viewport orientation.
func (r *Renderer) Snapshot() image.Image {
	if r.view == nil {
		return nil
	}
	out := image.NewGray(r.view.Bounds())
	copy(out.Pix, r.view.Pix)
	return out
}

// rotateInto fills dst (native orientation) from src (viewport
// orientation).
func rotateInto(dst, src *image.Gray, rotation int) {
	nw, nh := dst.Bounds().Dx(), dst.Bounds().Dy()
	for y := 0; y < nh; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+nw]
		for x := range row {
			vx, vy := orient.ToViewport(x, y, rotation, nw, nh)
			row[x] = src.Pix[vy*src.Stride+vx]
		}
	}
}

const sleepTop = 20

func textTop(sc model.Scene) int {
	v := sc.Viewport
	switch {
	case sc.Sleeping:
		return sleepTop
	case sc.Chrome:
		return v.Margin + v.HeaderHeight + v.Margin
	}
	return v.Margin
}

func (r *Renderer) drawPage(c *image.RGBA, sc model.Scene) {
	face := r.fonts.Face(sc.FontSize)
	lh := paginate.LineHeight(r.fonts, sc.FontSize)
	y := textTop(sc)
	for _, line := range strings.Split(strings.TrimSuffix(sc.Page, "\n"), "\n") {
		drawString(c, face, line, sc.Viewport.Margin, y, color.Black)
		y += lh
	}
}

func (r *Renderer) drawImage(c *image.RGBA, sc model.Scene) {
	a := sc.Image
	if a == nil || len(a.Data) == 0 {
		return
	}
	src, format, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		appLog.Warn("image decode failed", "err", err.Error(), "bytes", len(a.Data))
		return
	}

	v := sc.Viewport
	if sc.Scale > 0 && a.Known {
		sw := int(float64(a.Width)*sc.Scale + 0.5)
		sh := int(float64(a.Height)*sc.Scale + 0.5)
		surf, err := r.surface.Ensure(sw, sh)
		if err == nil {
			draw.ApproxBiLinear.Scale(surf, surf.Bounds(), src, src.Bounds(), draw.Src, nil)
			// Centre and crop whatever overflows.
			off := image.Pt((sw-v.Width)/2, (sh-v.Height)/2)
			draw.Draw(c, c.Bounds(), surf, off, draw.Src)
			return
		}
		appLog.Warn("scaled surface unavailable, drawing unscaled", "err", err.Error())
	}

	appLog.Debug("drawing image at native size", "format", format, "bounds", src.Bounds().String())
	draw.Draw(c, src.Bounds().Sub(src.Bounds().Min), src, src.Bounds().Min, draw.Src)
}

// streamLineSpacing is tighter than the paginated text.
const streamLineSpacing = 1.1

func streamTop(sc model.Scene) int {
	if sc.Sleeping || !sc.Chrome {
		return sc.Viewport.Margin
	}
	return sc.Viewport.HeaderHeight + sc.Viewport.Margin
}

// drawStream draws the log bottom-up: the newest line sits at the bottom
// and older lines scroll off the top.
func (r *Renderer) drawStream(c *image.RGBA, sc model.Scene) {
	v := sc.Viewport
	face := r.fonts.Face(sc.FontSize)
	lh := int(float64(r.fonts.FontHeight(sc.FontSize)) * streamLineSpacing)
	if lh < 1 {
		lh = 1
	}
	top := streamTop(sc)
	y := v.Height - v.Margin
	if sc.Sleeping {
		y = v.Height - sleepBandHeight
	}
	avail := v.Width - 2*v.Margin

	for i := len(sc.Lines) - 1; i >= 0; i-- {
		rows := r.wrapRows(sc.Lines[i], sc.FontSize, avail)
		for j := len(rows) - 1; j >= 0; j-- {
			y -= lh
			if y < top {
				return
			}
			drawString(c, face, rows[j], v.Margin, y, color.Black)
		}
	}
}

// wrapRows breaks a log line into rows no wider than avail, splitting
// anywhere.
func (r *Renderer) wrapRows(line string, size, avail int) []string {
	if line == "" || r.fonts.TextWidth(line, size) <= avail {
		return []string{line}
	}
	var rows []string
	var cur []rune
	for _, ch := range line {
		next := append(cur, ch)
		if len(cur) > 0 && r.fonts.TextWidth(string(next), size) > avail {
			rows = append(rows, string(cur))
			cur = []rune{ch}
			continue
		}
		cur = next
	}
	if len(cur) > 0 {
		rows = append(rows, string(cur))
	}
	return rows
}
