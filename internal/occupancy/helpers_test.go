package occupancy

import "time"

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// grayFrame returns a single-channel frame filled with v.
func grayFrame(w, h int, v uint8) *Frame {
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = v
	}
	return &Frame{Pix: pix, Width: w, Height: h, Channels: 1, Timestamp: testEpoch}
}

// withSquare paints a size x size square of value v at (x, y).
func withSquare(f *Frame, x, y, size int, v uint8) *Frame {
	for yy := y; yy < y+size; yy++ {
		for xx := x; xx < x+size; xx++ {
			for c := 0; c < f.Channels; c++ {
				f.Pix[(yy*f.Width+xx)*f.Channels+c] = v
			}
		}
	}
	return f
}

// maskWithRects returns a mask with the given rectangles set.
func maskWithRects(w, h int, rects ...BoundingBox) *Mask {
	m := NewMask(w, h)
	for _, r := range rects {
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				m.Set(x, y, true)
			}
		}
	}
	return m
}
