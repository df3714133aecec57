// Package imagegeom works out how an uploaded image maps onto the screen:
// a minimal JPEG header walk for the pixel size, the cover-fit scale, a
// bounded chunked upload buffer and a reusable decode surface.
package imagegeom

import (
	"encoding/binary"

	"paperpiper/internal/model"
)

const (
	markerPrefix      = 0xFF
	markerSOI         = 0xD8
	markerSOFBaseline = 0xC0
	markerSOFProg     = 0xC2
)

// ParseSize walks the JPEG marker chain and returns the dimensions from the
// first baseline or progressive start-of-frame segment. ok is false for
// anything malformed, truncated or zero-sized; it never fails harder.
func ParseSize(data []byte) (width, height int, ok bool) {
	if len(data) < 4 || data[0] != markerPrefix || data[1] != markerSOI {
		return 0, 0, false
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != markerPrefix {
			return 0, 0, false
		}
		marker := data[pos+1]
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))

		if marker == markerSOFBaseline || marker == markerSOFProg {
			// length(2) precision(1) height(2) width(2), counted from pos+2
			if pos+9 > len(data) {
				return 0, 0, false
			}
			h := int(binary.BigEndian.Uint16(data[pos+5 : pos+7]))
			w := int(binary.BigEndian.Uint16(data[pos+7 : pos+9]))
			if w == 0 || h == 0 {
				return 0, 0, false
			}
			return w, h, true
		}

		if length < 2 {
			return 0, 0, false
		}
		pos += 2 + length
	}
	return 0, 0, false
}

// CoverScale is the factor that fills screenW x screenH completely,
// cropping whatever overflows. Zero for unknown geometry.
func CoverScale(screenW, screenH, imgW, imgH int) float64 {
	if screenW <= 0 || screenH <= 0 || imgW <= 0 || imgH <= 0 {
		return 0
	}
	sx := float64(screenW) / float64(imgW)
	sy := float64(screenH) / float64(imgH)
	if sx > sy {
		return sx
	}
	return sy
}

// Resolve fills the asset's dimensions on first use. Later calls are no-ops.
func Resolve(a *model.ImageAsset) {
	if a == nil || a.Resolved {
		return
	}
	a.Width, a.Height, a.Known = ParseSize(a.Data)
	a.Resolved = true
}
