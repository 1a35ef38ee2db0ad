package occupancy

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const markerRadius = 20

var (
	markerColor = color.RGBA{0, 255, 0, 255}
	boxColor    = color.RGBA{255, 255, 255, 255}
	canvasColor = color.RGBA{0, 0, 0, 255}
)

// RenderAnonymousView draws blobs on a blank canvas of the given size. It
// never receives the camera frame, so the output holds no captured pixels.
func RenderAnonymousView(width, height int, blobs []Blob) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(canvasColor), image.Point{}, draw.Src)

	for i, b := range blobs {
		fillCircle(img, b.Centroid.X, b.Centroid.Y, markerRadius, markerColor)
		drawBox(img, b.Box, boxColor, 2)
		drawLabel(img, b.Box.X, b.Box.Y-10, Label(i), boxColor)
	}
	return img
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	bounds := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			p := image.Pt(cx+dx, cy+dy)
			if p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawBox draws the outline of box, thickness pixels wide, inside its edges.
func drawBox(img *image.RGBA, box BoundingBox, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
	}

	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.W-1, box.Y+box.H-1
	for t := 0; t < thickness; t++ {
		for x := x0; x <= x1; x++ {
			set(x, y0+t)
			set(x, y1-t)
		}
		for y := y0; y <= y1; y++ {
			set(x0+t, y)
			set(x1-t, y)
		}
	}
}

// drawLabel writes text with its baseline at (x, y).
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < basicfont.Face7x13.Ascent {
		y = basicfont.Face7x13.Ascent
	}
	if x < 0 {
		x = 0
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}
