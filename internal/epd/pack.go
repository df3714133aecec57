package epd

import (
	"fmt"
	"image"
)

// DefaultThreshold splits ink from paper.
const DefaultThreshold = 0x80

// PackGray converts a grayscale frame into one packed 1bpp plane.
//
// Packing rules:
//
//   - the plane is y-major, MSB-first:
//     byteIndex = y * stride + (x >> 3)
//     mask      = 0x80 >> (x & 7)
//   - stride is width rounded up to whole bytes.
//   - every bit starts as 1 (white); pixels darker than threshold clear
//     their bit.
func PackGray(img *image.Gray, threshold uint8) (plane []byte, stride int, err error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, fmt.Errorf("epd: cannot pack empty frame %v", b)
	}

	stride = (w + 7) / 8
	plane = make([]byte, stride*h)
	for i := range plane {
		plane[i] = 0xFF
	}

	for py := 0; py < h; py++ {
		row := img.Pix[py*img.Stride : py*img.Stride+w]
		for px, y := range row {
			if y >= threshold {
				continue
			}
			plane[py*stride+(px>>3)] &^= byte(0x80 >> (px & 7))
		}
	}
	return plane, stride, nil
}
