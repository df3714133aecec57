package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/llgcode/draw2d/draw2dkit"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"paperpiper/internal/gesture"
	"paperpiper/internal/model"
)

var (
	headerFill = color.Gray{Y: 0xE0}
	buttonFill = color.Gray{Y: 0xF0}
)

const sleepBandHeight = 50

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// drawString draws s with its top edge at y.
func drawString(dst *image.RGBA, face font.Face, s string, x, y int, c color.Color) int {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	d.Dot = fixed.P(x, y+face.Metrics().Ascent.Round())
	d.DrawString(s)
	return d.Dot.X.Round()
}

// drawCentered draws s centred on cx with its top edge at y.
func drawCentered(dst *image.RGBA, face font.Face, s string, cx, y int, c color.Color) {
	w := font.MeasureString(face, s).Round()
	drawString(dst, face, s, cx-w/2, y, c)
}

func drawRoundedRect(gc *draw2dimg.GraphicContext, x, y, w, h, r float64) {
	gc.MoveTo(x+r, y)
	gc.LineTo(x+w-r, y)
	gc.ArcTo(x+w-r, y+r, r, r, -90, 90)
	gc.LineTo(x+w, y+h-r)
	gc.ArcTo(x+w-r, y+h-r, r, r, 0, 90)
	gc.LineTo(x+r, y+h)
	gc.ArcTo(x+r, y+h-r, r, r, 90, 90)
	gc.LineTo(x, y+r)
	gc.ArcTo(x+r, y+r, r, r, 180, 90)
	gc.Close()
}

func hline(gc *draw2dimg.GraphicContext, x0, x1, y float64) {
	gc.BeginPath()
	gc.MoveTo(x0, y)
	gc.LineTo(x1, y)
	gc.Stroke()
}

// drawHeader draws the grey band with the address at the left, the mode
// label in the middle and the battery gauge at the right.
func (r *Renderer) drawHeader(c *image.RGBA, v model.Viewport, label string) {
	w, h := float64(v.Width), float64(v.HeaderHeight)
	gc := draw2dimg.NewGraphicContext(c)
	gc.SetFillColor(headerFill)
	gc.BeginPath()
	draw2dkit.Rectangle(gc, 0, 0, w, h)
	gc.Fill()
	gc.SetStrokeColor(color.Black)
	gc.SetLineWidth(2)
	hline(gc, 0, w, h-1)

	small := r.fonts.Face(1)
	smallTop := (v.HeaderHeight - r.fonts.FontHeight(1)) / 2

	var addr string
	if r.info != nil {
		addr = r.info.Address()
	}
	if addr != "" {
		drawString(c, small, addr, v.Margin, smallTop, color.Black)
	}
	if label != "" {
		drawCentered(c, r.fonts.Face(2), label, v.Width/2, (v.HeaderHeight-r.fonts.FontHeight(2))/2, color.Black)
	}

	pct, ok := -1, false
	if r.info != nil {
		pct, ok = r.info.BatteryPercent()
	}
	r.drawBattery(c, gc, v, pct, ok, smallTop)
}

func (r *Renderer) drawBattery(c *image.RGBA, gc *draw2dimg.GraphicContext, v model.Viewport, pct int, ok bool, textTop int) {
	const bw, bh, nub = 36.0, 18.0, 4.0
	x := float64(v.Width-v.Margin) - bw - nub
	y := (float64(v.HeaderHeight) - bh) / 2

	gc.SetStrokeColor(color.Black)
	gc.SetLineWidth(2)
	gc.BeginPath()
	draw2dkit.Rectangle(gc, x, y, x+bw, y+bh)
	gc.Stroke()

	gc.SetFillColor(color.Black)
	gc.BeginPath()
	draw2dkit.Rectangle(gc, x+bw, y+bh/3, x+bw+nub, y+2*bh/3)
	gc.Fill()

	text := "--%"
	if ok {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		fill := (bw - 6) * float64(pct) / 100
		if fill > 0 {
			gc.BeginPath()
			draw2dkit.Rectangle(gc, x+3, y+3, x+3+fill, y+bh-3)
			gc.Fill()
		}
		text = fmt.Sprintf("%d%%", pct)
	}
	small := r.fonts.Face(1)
	tw := font.MeasureString(small, text).Round()
	drawString(c, small, text, int(x)-6-tw, textTop, color.Black)
}

var footerLabels = [gesture.FooterZones]string{"|<<", "<", "", ">", ">>|"}

// drawFooter draws the five page buttons. The middle one shows the page
// position.
func (r *Renderer) drawFooter(c *image.RGBA, v model.Viewport, index, count int) {
	top := v.Height - v.FooterHeight
	gc := draw2dimg.NewGraphicContext(c)
	gc.SetStrokeColor(color.Black)
	gc.SetLineWidth(2)
	hline(gc, 0, float64(v.Width), float64(top))

	face := r.fonts.Face(2)
	cell := v.Width / gesture.FooterZones
	pad := 6
	textTop := top + (v.FooterHeight-r.fonts.FontHeight(2))/2
	for i, label := range footerLabels {
		x := i * cell
		if i == 2 {
			if count < 1 {
				count = 1
			}
			label = fmt.Sprintf("%d/%d", index+1, count)
		} else {
			gc.SetFillColor(buttonFill)
			gc.BeginPath()
			drawRoundedRect(gc, float64(x+pad), float64(top+pad), float64(cell-2*pad), float64(v.FooterHeight-2*pad), 8)
			gc.FillStroke()
		}
		drawCentered(c, face, label, x+cell/2, textTop, color.Black)
	}
}

// drawSleepBand overlays the bottom band announcing power-off.
func (r *Renderer) drawSleepBand(c *image.RGBA, v model.Viewport) {
	top := v.Height - sleepBandHeight
	fillRect(c, image.Rect(0, top, v.Width, v.Height), color.White)
	gc := draw2dimg.NewGraphicContext(c)
	gc.SetStrokeColor(color.Black)
	gc.SetLineWidth(2)
	hline(gc, 0, float64(v.Width), float64(top))
	drawCentered(c, r.fonts.Face(2), "Sleeping...", v.Width/2, top+(sleepBandHeight-r.fonts.FontHeight(2))/2, color.Black)
}
