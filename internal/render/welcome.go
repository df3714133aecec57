package render

import (
	"image"
	"image/color"
	"strings"

	"paperpiper/internal/model"
)

type hintSection struct {
	title    string
	commands []string
}

// welcomeHints lists how to feed each mode; {ip} is replaced with the
// device address.
var welcomeHints = []hintSection{
	{"-- TEXT --", []string{`text "Hello"`, `curl -d 'msg' {ip}/api/text`}},
	{"-- IMAGE --", []string{`image < photo.jpg`, `curl --data-binary @photo.jpg {ip}/api/image`}},
	{"-- STREAM --", []string{`nc {ip} 2323`, `tail -f app.log | stream`}},
	{"-- MAP --", []string{`image --map < map.jpg`}},
	{"-- MQTT --", []string{`mqtt --broker host --topic sensors/#`}},
}

func (r *Renderer) drawWelcome(c *image.RGBA, sc model.Scene) {
	v := sc.Viewport
	r.drawHeader(c, v, "")

	addr := "<ip>"
	if r.info != nil && r.info.Address() != "" {
		addr = r.info.Address()
	}

	y := v.HeaderHeight + v.Margin
	drawCentered(c, r.fonts.Face(3), "Paper Piper", v.Width/2, y, color.Black)
	y += r.fonts.FontHeight(3) + v.Margin

	title, cmd := r.fonts.Face(2), r.fonts.Face(1)
	titleH, cmdH := r.fonts.FontHeight(2)+4, r.fonts.FontHeight(1)+4
	limit := v.Height
	if sc.Sleeping {
		limit = v.Height - 20 - r.fonts.FontHeight(3)
	}
	for _, s := range welcomeHints {
		if y+titleH > limit {
			break
		}
		drawString(c, title, s.title, v.Margin, y, color.Black)
		y += titleH
		for _, line := range s.commands {
			if y+cmdH > limit {
				break
			}
			drawString(c, cmd, strings.ReplaceAll(line, "{ip}", addr), 2*v.Margin, y, color.Black)
			y += cmdH
		}
		y += v.Margin
	}

	if sc.Sleeping {
		drawCentered(c, r.fonts.Face(3), "Sleeping...", v.Width/2, v.Height-20-r.fonts.FontHeight(3), color.Black)
	}
}
